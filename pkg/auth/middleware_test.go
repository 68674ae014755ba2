package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
)

func serve(mw func(http.Handler) http.Handler, r *http.Request) (*httptest.ResponseRecorder, *http.Request) {
	var seen *http.Request
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, seen
}

func TestMiddlewareBypass(t *testing.T) {
	mw := Middleware(&Chain{}, nil, DefaultBypass)
	for _, p := range []string{"/healthz", "/metrics"} {
		rec, _ := serve(mw, httptest.NewRequest("GET", p, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", p, rec.Code)
		}
	}
}

func TestMiddlewareRejects(t *testing.T) {
	mw := Middleware(&Chain{}, nil, DefaultBypass)
	rec, seen := serve(mw, httptest.NewRequest("POST", "/mcp", nil))

	if rec.Code != http.StatusUnauthorized || seen != nil {
		t.Fatalf("status = %d, handler reached = %v", rec.Code, seen != nil)
	}
	if !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
	}
	if body := rec.Body.String(); body != `{"error":"authentication required"}` {
		t.Errorf("body = %s", body)
	}
}

func TestMiddlewareInjectsIdentityAndTenant(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		&stubAuthn{res: Result{Decision: Yes, Identity: &Identity{Subject: "alice", Tenant: "lab-1", Tier: "default"}}},
	}}
	rec, seen := serve(Middleware(chain, nil, nil), httptest.NewRequest("POST", "/mcp", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if id := IdentityFrom(seen.Context()); id == nil || id.Subject != "alice" {
		t.Errorf("identity = %+v", id)
	}
	if tenant := storage.GetTenant(seen.Context()); tenant != "lab-1" {
		t.Errorf("tenant = %q", tenant)
	}
}

func TestMiddlewareEmptySubject(t *testing.T) {
	chain := &Chain{Authenticators: []Authenticator{
		&stubAuthn{res: Result{Decision: Yes, Identity: &Identity{}}},
	}}
	rec, _ := serve(Middleware(chain, nil, nil), httptest.NewRequest("POST", "/mcp", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMiddlewareRateLimit(t *testing.T) {
	chain := &Chain{AllowAnonymous: true}
	mw := Middleware(chain, NewLimiter(1), nil)

	if rec, _ := serve(mw, httptest.NewRequest("POST", "/mcp", nil)); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	rec, seen := serve(mw, httptest.NewRequest("POST", "/mcp", nil))
	if rec.Code != http.StatusTooManyRequests || seen != nil {
		t.Fatalf("second request: status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}
