// Package http hosts the MCP streamable HTTP endpoint alongside the
// health and Prometheus scrape endpoints, and manages the server
// lifecycle including graceful shutdown.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/auth"
	"github.com/yingchuan/mcp-code-sandbox/pkg/observability"
	"github.com/yingchuan/mcp-code-sandbox/pkg/transport"
)

// HealthChecker is probed by /healthz. The session ledger implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServerConfig holds listener and routing settings.
type ServerConfig struct {
	Addr string

	// Path serves the MCP endpoint. Default /mcp.
	Path string

	// MetricsPath serves Prometheus metrics. Empty disables the endpoint.
	MetricsPath string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		Path:            "/mcp",
		MetricsPath:     "/metrics",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server wraps an http.Server around the MCP handler.
type Server struct {
	httpServer *http.Server
	config     ServerConfig
	logger     *slog.Logger

	authChain *auth.Chain
	limiter   *auth.Limiter
	health    HealthChecker
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithAuth protects the MCP endpoint with the given chain and optional
// rate limiter. Health and metrics endpoints stay open.
func WithAuth(chain *auth.Chain, limiter *auth.Limiter) ServerOption {
	return func(s *Server) {
		s.authChain = chain
		s.limiter = limiter
	}
}

// WithHealthCheck makes /healthz report 503 while hc fails.
func WithHealthCheck(hc HealthChecker) ServerOption {
	return func(s *Server) { s.health = hc }
}

// NewServer builds a server routing cfg.Path to mcpHandler. Zero fields
// in cfg take their defaults.
func NewServer(mcpHandler http.Handler, cfg ServerConfig, opts ...ServerOption) *Server {
	def := DefaultServerConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	s := &Server{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(mcpHandler),
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes(mcpHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, mcpHandler)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	bypass := []string{"/healthz"}
	if s.config.MetricsPath != "" {
		mux.Handle("GET "+s.config.MetricsPath, promhttp.Handler())
		bypass = append(bypass, s.config.MetricsPath)
	}

	var authMW transport.Middleware
	if s.authChain != nil {
		authMW = auth.Middleware(s.authChain, s.limiter, bypass)
	}

	return transport.Chain(
		transport.Recovery(s.logger),
		transport.RequestID(),
		transport.AccessLog(s.logger, bypass...),
		observability.MetricsMiddleware,
		authMW,
	)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, map[string]string{"status": "ok"}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			status, body = http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()), slog.String("path", s.config.Path))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
