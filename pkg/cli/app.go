package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/auth"
	"github.com/yingchuan/mcp-code-sandbox/pkg/auth/apikey"
	"github.com/yingchuan/mcp-code-sandbox/pkg/auth/jwt"
	"github.com/yingchuan/mcp-code-sandbox/pkg/auth/noop"
	"github.com/yingchuan/mcp-code-sandbox/pkg/config"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox/factory"
	"github.com/yingchuan/mcp-code-sandbox/pkg/session"
	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
	"github.com/yingchuan/mcp-code-sandbox/pkg/storage/memory"
	"github.com/yingchuan/mcp-code-sandbox/pkg/storage/postgres"
	"github.com/yingchuan/mcp-code-sandbox/pkg/telnet"
	"github.com/yingchuan/mcp-code-sandbox/pkg/tools"
)

// app holds the long-lived components of a running server.
type app struct {
	cfg      *config.Config
	ledger   storage.Ledger // nil when storage.type is none
	sessions *session.Registry
	telnet   *telnet.Manager // nil when disabled
	server   *mcp.Server
}

// newApp builds the registry, ledger and tool server described by cfg.
// The backend configuration is checked before anything is opened.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	ctor, err := factory.For(cfg.Backend.Type, factory.FromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("configuring %s backend: %w", cfg.Backend.Type, err)
	}

	ledger, err := openLedger(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithCreateTimeout(cfg.Session.CreateTimeout),
		session.WithCloseTimeout(cfg.Session.CloseTimeout),
		session.WithCloseAllTimeout(cfg.Session.CloseAllTimeout),
	}
	if ledger != nil {
		opts = append(opts, session.WithLedger(ledger))
	}

	a := &app{
		cfg:      cfg,
		ledger:   ledger,
		sessions: session.NewRegistry(session.Constructor(ctor), opts...),
	}
	if cfg.Telnet.Enabled {
		a.telnet = telnet.NewManager(
			telnet.WithConnectTimeout(cfg.Telnet.ConnectTimeout),
			telnet.WithReadTimeout(cfg.Telnet.ReadTimeout),
		)
	}

	a.server = tools.NewServer(tools.Options{
		Sessions: a.sessions,
		Backend:  cfg.Backend.Type,
		Telnet:   a.telnet,
		Version:  Version,
	})

	slog.Info("sandbox server configured",
		"backend", cfg.Backend.Type,
		"storage", cfg.Storage.Type,
		"telnet", cfg.Telnet.Enabled,
	)
	return a, nil
}

// openLedger returns nil for storage type "none".
func openLedger(ctx context.Context, cfg config.StorageConfig) (storage.Ledger, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres ledger: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// buildAuth returns the authenticator chain and optional rate limiter for
// the HTTP transport.
func buildAuth(cfg config.AuthConfig) (*auth.Chain, *auth.Limiter, error) {
	var authn auth.Authenticator
	switch cfg.Type {
	case "none", "":
		authn = noop.Authenticator{}
	case "apikey":
		keys := make([]apikey.Key, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, apikey.Key{Key: k.Key, Subject: k.Subject, Tenant: k.TenantID, Tier: k.ServiceTier})
		}
		a := apikey.New(keys)
		if a.Len() == 0 {
			return nil, nil, errors.New("auth.type is apikey but no api_keys are configured")
		}
		authn = a
	case "jwt":
		authn = jwt.New(jwt.Config{
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			JWKSURL:  cfg.JWT.JWKSURL,
		})
	default:
		return nil, nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
	chain := &auth.Chain{Authenticators: []auth.Authenticator{authn}}
	return chain, auth.NewLimiter(cfg.RateLimitRPM), nil
}

// shutdown closes every live sandbox, then telnet connections, then the
// ledger.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	for id, out := range a.sessions.CloseAll(ctx) {
		switch {
		case out.TimedOut:
			slog.Warn("sandbox close timed out", "session_id", id)
		case out.Err != nil:
			slog.Warn("sandbox close failed", "session_id", id, "error", out.Err)
		}
	}
	if a.telnet != nil {
		a.telnet.CloseAll()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing ledger: %w", err))
		}
	}
	return errors.Join(errs...)
}
