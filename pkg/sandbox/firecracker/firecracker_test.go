package firecracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

// fakeService mimics the orchestration REST contract.
type fakeService struct {
	mu       sync.Mutex
	requests []string
	auth     []string
	payloads []map[string]string

	spawnID      string
	shutdownCode int
	result       func(kind string, payload map[string]string) (int, string)
}

func (s *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) map[string]string {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		payload := map[string]string{}
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&payload)
		}
		s.payloads = append(s.payloads, payload)
		return payload
	}
	mux.HandleFunc("POST /microvm/spawn", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(map[string]string{"microvm_id": s.spawnID})
	})
	mux.HandleFunc("POST /microvm/shutdown", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if s.shutdownCode != 0 {
			w.WriteHeader(s.shutdownCode)
			w.Write([]byte(`{"detail":"gone"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "shutdown"})
	})
	exec := func(kind string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			payload := record(r)
			code, body := http.StatusOK, `{"result":{"stdout":"ok","stderr":""}}`
			if s.result != nil {
				code, body = s.result(kind, payload)
			}
			w.WriteHeader(code)
			w.Write([]byte(body))
		}
	}
	mux.HandleFunc("POST /microvm/run_code", exec("code"))
	mux.HandleFunc("POST /microvm/run_command", exec("command"))
	mux.HandleFunc("GET /microvm/status", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode(map[string]string{"microvm_id": r.URL.Query().Get("microvm_id"), "status": "running"})
	})
	mux.HandleFunc("GET /microvm/list", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		json.NewEncoder(w).Encode([]map[string]string{{"microvm_id": s.spawnID}})
	})
	return mux
}

func (s *fakeService) lastPayload() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[len(s.payloads)-1]
}

func (s *fakeService) authHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

func (s *fakeService) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestInterpreter(t *testing.T, svc *fakeService, apiKey string) *Interpreter {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)
	interp, err := New(srv.URL, apiKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return interp
}

func TestNewRequiresBackendURL(t *testing.T) {
	t.Setenv(EnvBackendURL, "")
	t.Setenv(EnvAPIKey, "")

	_, err := New("", "")
	if !errors.Is(err, sandbox.ErrMissingConfig) {
		t.Fatalf("New error = %v, want ErrMissingConfig", err)
	}
	var cfgErr *sandbox.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "backend_url" {
		t.Errorf("expected ConfigError for backend_url, got %v", err)
	}
}

func TestNewEnvFallback(t *testing.T) {
	svc := &fakeService{spawnID: "vm-env"}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	t.Setenv(EnvBackendURL, srv.URL)
	t.Setenv(EnvAPIKey, "env-key")

	interp, err := New("", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := interp.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if auth := svc.authHeaders(); auth[0] != "Bearer env-key" {
		t.Errorf("Authorization = %q, want bearer from env", auth[0])
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	svc := &fakeService{spawnID: "vm-1"}
	interp := newTestInterpreter(t, svc, "")
	ctx := context.Background()

	if _, err := interp.RunCode(ctx, "print(1)"); !errors.Is(err, sandbox.ErrNotInitialized) {
		t.Errorf("RunCode error = %v", err)
	}
	if _, err := interp.RunCommand(ctx, "ls"); !errors.Is(err, sandbox.ErrNotInitialized) {
		t.Errorf("RunCommand error = %v", err)
	}
	if _, err := interp.Files(); !errors.Is(err, sandbox.ErrNotInitialized) {
		t.Errorf("Files error = %v", err)
	}
	if _, err := interp.Status(ctx); !errors.Is(err, sandbox.ErrNotInitialized) {
		t.Errorf("Status error = %v", err)
	}
	if n := svc.count(); n != 0 {
		t.Errorf("expected no backend requests, got %d", n)
	}
}

func TestInitializeWithoutID(t *testing.T) {
	svc := &fakeService{}
	interp := newTestInterpreter(t, svc, "")

	err := interp.Initialize(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no microvm_id returned") {
		t.Fatalf("Initialize error = %v", err)
	}
	if _, err := interp.Files(); !errors.Is(err, sandbox.ErrNotInitialized) {
		t.Errorf("interpreter should stay uninitialized: %v", err)
	}
}

func TestRunCodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantLogs string
		wantErr  string
	}{
		{
			name:     "success",
			status:   http.StatusOK,
			body:     `{"result": {"stdout": "ok", "stderr": ""}}`,
			wantLogs: "ok",
		},
		{
			name:     "stderr becomes error",
			status:   http.StatusOK,
			body:     `{"result": {"stdout": "partial", "stderr": "Traceback: boom"}}`,
			wantLogs: "partial",
			wantErr:  "Traceback: boom",
		},
		{
			name:     "missing result",
			status:   http.StatusOK,
			body:     `{}`,
			wantLogs: "",
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `not json`,
			wantErr: "decode result envelope",
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"detail":"vm crashed"}`,
			wantErr: "HTTP 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{spawnID: "vm-1", result: func(string, map[string]string) (int, string) {
				return tt.status, tt.body
			}}
			interp := newTestInterpreter(t, svc, "")
			ctx := context.Background()
			if err := interp.Initialize(ctx); err != nil {
				t.Fatalf("Initialize: %v", err)
			}

			res, err := interp.RunCode(ctx, "print('ok')")
			if err != nil {
				t.Fatalf("RunCode: %v", err)
			}
			if res.Logs != tt.wantLogs {
				t.Errorf("logs = %q, want %q", res.Logs, tt.wantLogs)
			}
			if tt.wantErr == "" {
				if res.HasError() {
					t.Errorf("unexpected error %q", res.ErrorText())
				}
				return
			}
			if !strings.Contains(res.ErrorText(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", res.ErrorText(), tt.wantErr)
			}
		})
	}
}

func TestRequestPayloads(t *testing.T) {
	svc := &fakeService{spawnID: "vm-42"}
	interp := newTestInterpreter(t, svc, "secret")
	ctx := context.Background()
	if err := interp.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := interp.RunCode(ctx, "print(1)"); err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if p := svc.lastPayload(); p["microvm_id"] != "vm-42" || p["code"] != "print(1)" {
		t.Errorf("run_code payload = %v", p)
	}

	if _, err := interp.RunCommand(ctx, "uname -a"); err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if p := svc.lastPayload(); p["microvm_id"] != "vm-42" || p["command"] != "uname -a" {
		t.Errorf("run_command payload = %v", p)
	}

	status, err := interp.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status["microvm_id"] != "vm-42" || status["status"] != "running" {
		t.Errorf("status = %v", status)
	}

	for i, a := range svc.authHeaders() {
		if a != "Bearer secret" {
			t.Errorf("request %d Authorization = %q", i, a)
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	svc := &fakeService{spawnID: "vm-1"}
	interp := newTestInterpreter(t, svc, "")
	ctx := context.Background()

	if err := interp.Close(ctx); err != nil {
		t.Fatalf("Close before Initialize: %v", err)
	}
	if err := interp.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := interp.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if p := svc.lastPayload(); p["microvm_id"] != "vm-1" {
		t.Errorf("shutdown payload = %v", p)
	}

	before := svc.count()
	if err := interp.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if svc.count() != before {
		t.Error("second Close reached the backend")
	}
	if _, err := interp.RunCode(ctx, "x"); !errors.Is(err, sandbox.ErrNotInitialized) {
		t.Errorf("RunCode after Close: %v", err)
	}
}

func TestCloseSwallowsNotFound(t *testing.T) {
	svc := &fakeService{spawnID: "vm-1", shutdownCode: http.StatusNotFound}
	interp := newTestInterpreter(t, svc, "")
	ctx := context.Background()
	if err := interp.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := interp.Close(ctx); err != nil {
		t.Errorf("Close should treat 404 as already gone, got %v", err)
	}
}

func TestCloseReportsServerError(t *testing.T) {
	svc := &fakeService{spawnID: "vm-1", shutdownCode: http.StatusBadGateway}
	interp := newTestInterpreter(t, svc, "")
	ctx := context.Background()
	if err := interp.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	err := interp.Close(ctx)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("Close error = %v, want HTTPError 502", err)
	}
	// The interpreter is unusable after a failed close.
	if _, err := interp.Files(); !errors.Is(err, sandbox.ErrNotInitialized) {
		t.Errorf("Files after failed Close: %v", err)
	}
}

func TestClientList(t *testing.T) {
	svc := &fakeService{spawnID: "vm-7"}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	vms, err := NewClient(srv.URL+"/", "").List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(vms) != 1 || vms[0]["microvm_id"] != "vm-7" {
		t.Errorf("vms = %v", vms)
	}
}
