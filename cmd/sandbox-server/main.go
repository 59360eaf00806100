// Command sandbox-server runs the sandbox HTTP server inside sandbox pods.
// Each session gets its own working directory with private packages; code
// runs in a python3 subprocess.
//
// Configuration:
//
//	SANDBOX_PORT            - Listen port (default: 8080)
//	SANDBOX_PYTHON          - Interpreter binary (default: python3)
//	SANDBOX_BASE_DIR        - Parent directory for session dirs (default: os.TempDir())
//	SANDBOX_PYTHON_INDEX    - Python package index URL (default: installer default)
//	SANDBOX_MAX_CONCURRENT  - Max concurrent executions and installs (default: 3)
//	SANDBOX_MAX_SESSIONS    - Max live sessions (default: 16)
//	SANDBOX_IDLE_TIMEOUT    - Idle session lifetime (default: 10m)
//	CODEACT_LOG_LEVEL, CODEACT_LOG_FORMAT, CODEACT_DEBUG - logging
package main

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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/sandbox/process"
	"github.com/rhuss/codeact/pkg/sandbox/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("sandbox server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	debug.Init("", "", "")

	port := envOr("SANDBOX_PORT", "8080")
	maxConcurrent, err := envOrInt("SANDBOX_MAX_CONCURRENT", 3)
	if err != nil {
		return err
	}
	maxSessions, err := envOrInt("SANDBOX_MAX_SESSIONS", 16)
	if err != nil {
		return err
	}
	idle, err := time.ParseDuration(envOr("SANDBOX_IDLE_TIMEOUT", "10m"))
	if err != nil {
		return fmt.Errorf("invalid SANDBOX_IDLE_TIMEOUT: %w", err)
	}

	backend := process.New(process.Config{
		Python:       envOr("SANDBOX_PYTHON", "python3"),
		BaseDir:      os.Getenv("SANDBOX_BASE_DIR"),
		PackageIndex: os.Getenv("SANDBOX_PYTHON_INDEX"),
	})
	if err := backend.Available(); err != nil {
		return err
	}
	runtime := backend.RuntimeVersion()

	srv := server.New(backend, server.Config{
		MaxConcurrent:  maxConcurrent,
		MaxSessions:    maxSessions,
		IdleTimeout:    idle,
		RuntimeVersion: runtime,
	})
	defer srv.Close()

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.Reap(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("sandbox server starting", "port", port, "runtime", runtime, "max_concurrent", maxConcurrent)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func envOrInt(key string, defaultVal int) (int, error) {
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
