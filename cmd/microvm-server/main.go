// Command microvm-server runs the development microVM orchestration
// service. Each microVM is a host workspace directory; nothing is
// isolated, so bind it to localhost.
//
// Configuration:
//
//	MICROVM_ADDR           - Listen address (default: 127.0.0.1:8090)
//	MICROVM_ROOT           - Workspace root (default: $TMPDIR/microvm)
//	MICROVM_PYTHON         - Python interpreter (default: python3)
//	MICROVM_SHELL          - Shell for run_command (default: bash)
//	MICROVM_EXEC_TIMEOUT   - Per-execution timeout (default: 30s)
//	MICROVM_MAX_CONCURRENT - Max concurrent executions (default: 3)
//	MICROVM_MAX_VMS        - Max live microVMs, 0 for unlimited (default: 0)
//	MICROVM_API_KEY        - Required bearer token (default: none)
//	MICROVM_LOG_FORMAT     - "text" or "json" (default: text)
//
// SANDBOX_DEBUG and SANDBOX_LOG_LEVEL work as for sandbox-mcp.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/microvm"
)

func main() {
	if err := run(); err != nil {
		slog.Error("microvm server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	debug.Init(debug.Options{Level: "info", Format: os.Getenv("MICROVM_LOG_FORMAT")})

	timeout, err := time.ParseDuration(envOr("MICROVM_EXEC_TIMEOUT", "30s"))
	if err != nil {
		return fmt.Errorf("invalid MICROVM_EXEC_TIMEOUT: %w", err)
	}
	maxConcurrent, err := envInt("MICROVM_MAX_CONCURRENT", 3)
	if err != nil {
		return err
	}
	maxVMs, err := envInt("MICROVM_MAX_VMS", 0)
	if err != nil {
		return err
	}

	srv, err := microvm.New(microvm.Config{
		Root:          os.Getenv("MICROVM_ROOT"),
		Python:        os.Getenv("MICROVM_PYTHON"),
		Shell:         os.Getenv("MICROVM_SHELL"),
		ExecTimeout:   timeout,
		MaxConcurrent: maxConcurrent,
		MaxVMs:        maxVMs,
		APIKey:        os.Getenv("MICROVM_API_KEY"),
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	addr := envOr("MICROVM_ADDR", "127.0.0.1:8090")
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + 30*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("microvm server starting", "addr", addr, "exec_timeout", timeout, "max_concurrent", maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
