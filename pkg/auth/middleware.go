package auth

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/observability"
	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
)

// DefaultBypass lists paths served without authentication.
var DefaultBypass = []string{"/healthz", "/metrics"}

// Middleware authenticates every request outside bypass, applies the
// optional rate limiter and stores the identity and its tenant in the
// request context.
func Middleware(chain *Chain, limiter *Limiter, bypass []string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(bypass))
	for _, p := range bypass {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-sandbox"`)
				writeError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
				return
			}
			id := res.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				writeError(w, http.StatusInternalServerError, "internal authentication error")
				return
			}

			if limiter != nil {
				if wait, ok := limiter.Allow(id); !ok {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier)
					observability.RateLimitRejectedTotal.WithLabelValues(id.Tier).Inc()
					w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
					writeError(w, http.StatusTooManyRequests, ErrTooManyRequests.Error())
					return
				}
			}

			debug.Log("auth", "authenticated", "subject", id.Subject, "tenant", id.Tenant, "path", r.URL.Path)

			ctx := WithIdentity(r.Context(), id)
			if id.Tenant != "" {
				ctx = storage.SetTenant(ctx, id.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":` + strconv.Quote(msg) + `}`))
}
