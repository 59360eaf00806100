package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/codeact/pkg/tools/registry"
)

// Invoker runs a catalog tool by name.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// Server publishes a catalog over MCP.
type Server struct {
	srv *mcp.Server
}

// NewServer registers every catalog entry as an MCP tool.
func NewServer(catalog *registry.Catalog, version string) (*Server, error) {
	srv := mcp.NewServer(
		&mcp.Implementation{Name: "codeact", Version: version},
		nil,
	)

	for _, d := range catalog.List() {
		var schema map[string]any
		if len(d.Parameters) > 0 {
			if err := json.Unmarshal(d.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("decoding schema of %q: %w", d.Name, err)
			}
		} else {
			schema = map[string]any{"type": "object"}
		}

		srv.AddTool(
			&mcp.Tool{
				Name:        d.Name,
				Description: d.Description,
				InputSchema: schema,
			},
			handler(catalog, d.Name),
		)
	}

	slog.Info("mcp server ready", "tools", len(catalog.List()))
	return &Server{srv: srv}, nil
}

// MCP returns the underlying SDK server, for running it over transports
// other than HTTP.
func (s *Server) MCP() *mcp.Server { return s.srv }

// Handler returns the streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.srv
	}, nil)
}

// handler adapts a catalog entry to an MCP tool handler. Tool faults are
// returned as an error result, never as a protocol error.
func handler(inv Invoker, name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}

		out, err := inv.Invoke(ctx, name, args)
		if err != nil {
			return errorResult(err.Error()), nil
		}

		data, err := json.Marshal(out)
		if err != nil {
			return errorResult(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
