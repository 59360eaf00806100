// Command mcp-stdio serves the codeact tool catalog over MCP on stdin and
// stdout, for desktop MCP clients that launch tools as subprocesses. Logs
// go to stderr.
//
// Configuration:
//
//	CODEACT_SANDBOX_BACKEND - "process" (default) or "mock"
//	CODEACT_PYTHON          - Interpreter binary (default: python3)
//	CODEACT_SEARXNG_URL     - SearXNG base URL; unset keeps placeholder search results
//	CODEACT_LOG_LEVEL, CODEACT_LOG_FORMAT, CODEACT_DEBUG - logging
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/sandbox/mock"
	"github.com/rhuss/codeact/pkg/sandbox/process"
	"github.com/rhuss/codeact/pkg/tools/builtins"
	"github.com/rhuss/codeact/pkg/tools/builtins/websearch"
	codeactmcp "github.com/rhuss/codeact/pkg/tools/mcp"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("mcp server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	debug.Init("", "", "")

	backend, err := newBackend(os.Getenv("CODEACT_SANDBOX_BACKEND"))
	if err != nil {
		return err
	}
	sb := sandbox.New(backend, sandbox.Config{
		DefaultTimeout: 30 * time.Second,
		MaxTimeout:     5 * time.Minute,
	})

	search := websearch.Config{MaxResults: 10}
	if u := os.Getenv("CODEACT_SEARXNG_URL"); u != "" {
		search.Backend = "searxng"
		search.URL = u
	}

	set, err := builtins.New(sb, builtins.Config{WebSearch: search})
	if err != nil {
		return fmt.Errorf("building tool catalog: %w", err)
	}
	defer set.Close()

	srv, err := codeactmcp.NewServer(set.Catalog, version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("serving MCP on stdio", "sandbox", backend.Name(), "tools", set.Catalog.Names())
	if err := srv.MCP().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newBackend(name string) (sandbox.Backend, error) {
	switch name {
	case "mock":
		return mock.New(mock.DefaultConfig()), nil
	case "", "process":
		b := process.New(process.Config{Python: os.Getenv("CODEACT_PYTHON")})
		if err := b.Available(); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported sandbox backend %q", name)
	}
}
