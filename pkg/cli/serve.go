package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/yingchuan/mcp-code-sandbox/pkg/config"
	transporthttp "github.com/yingchuan/mcp-code-sandbox/pkg/transport/http"
)

var serveFlags struct {
	transport string
	port      int
	backend   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Run the MCP server over stdio (default) or streamable HTTP.

In stdio mode stdout carries the protocol; logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.transport, "transport", "t", "", "transport: stdio or http (overrides server.transport)")
	f.IntVarP(&serveFlags.port, "port", "p", 0, "HTTP listen port (overrides server.port)")
	f.StringVarP(&serveFlags.backend, "backend", "b", "", "backend: e2b, docker, container or firecracker (overrides backend.type)")
	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags layers command-line flags over the loaded configuration.
func applyServeFlags(cfg *config.Config) error {
	if serveFlags.transport != "" {
		cfg.Server.Transport = serveFlags.transport
	}
	if serveFlags.port != 0 {
		cfg.Server.Port = serveFlags.port
	}
	if serveFlags.backend != "" {
		cfg.Backend.Type = serveFlags.backend
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.CloseAllTimeout+5*time.Second)
		defer cancel()
		if err := a.shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	switch cfg.Server.Transport {
	case "http":
		return serveHTTP(ctx, a)
	default:
		slog.Info("serving MCP over stdio")
		if err := a.server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

func serveHTTP(ctx context.Context, a *app) error {
	cfg := a.cfg
	chain, limiter, err := buildAuth(cfg.Auth)
	if err != nil {
		return err
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return a.server }, nil)

	srvCfg := transporthttp.ServerConfig{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Path:         cfg.Server.Path,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Observability.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Observability.Metrics.Path
	}

	opts := []transporthttp.ServerOption{transporthttp.WithAuth(chain, limiter)}
	if a.ledger != nil {
		opts = append(opts, transporthttp.WithHealthCheck(a.ledger))
	}
	return transporthttp.NewServer(handler, srvCfg, opts...).ListenAndServe(ctx)
}
