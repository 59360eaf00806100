package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/codeact/pkg/tools"
	"github.com/rhuss/codeact/pkg/tools/registry"
)

func testCatalog(t *testing.T) *registry.Catalog {
	t.Helper()
	c, err := registry.New(
		tools.Descriptor{
			Name:        "add",
			Description: "Add two numbers",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {"a": {"type": "number"}, "b": {"type": "number"}},
				"required": ["a", "b"]
			}`),
			Execute: func(_ context.Context, args map[string]any) (any, error) {
				return map[string]any{"sum": args["a"].(float64) + args["b"].(float64)}, nil
			},
		},
		tools.Descriptor{
			Name:        "broken",
			Description: "Always fails",
			Execute: func(context.Context, map[string]any) (any, error) {
				return nil, errors.New("disk full")
			},
		},
	)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return c
}

// connect runs the server over in-memory transports and returns a client
// session.
func connect(t *testing.T, c *registry.Catalog) *mcp.ClientSession {
	t.Helper()

	srv, err := NewServer(c, "test")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = srv.MCP().Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func TestServer_ListTools(t *testing.T) {
	session := connect(t, testCatalog(t))

	var names []string
	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("listing tools: %v", err)
		}
		names = append(names, tool.Name)
	}

	if len(names) != 2 {
		t.Fatalf("tools = %v, want 2 entries", names)
	}
	seen := map[string]bool{}
	for _, n := range names {
		seen[n] = true
	}
	if !seen["add"] || !seen["broken"] {
		t.Errorf("tools = %v, want add and broken", names)
	}
}

func TestServer_CallTool(t *testing.T) {
	session := connect(t, testCatalog(t))
	ctx := context.Background()

	tests := []struct {
		name      string
		params    *mcp.CallToolParams
		wantError bool
		wantText  string
	}{
		{
			name:     "success",
			params:   &mcp.CallToolParams{Name: "add", Arguments: map[string]any{"a": 2, "b": 3}},
			wantText: `{"sum":5}`,
		},
		{
			name:      "schema violation",
			params:    &mcp.CallToolParams{Name: "add", Arguments: map[string]any{"a": 2}},
			wantError: true,
			wantText:  "invalid arguments for add",
		},
		{
			name:      "tool error",
			params:    &mcp.CallToolParams{Name: "broken", Arguments: map[string]any{}},
			wantError: true,
			wantText:  "disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := session.CallTool(ctx, tt.params)
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if res.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.wantError)
			}
			if got := textOf(t, res); !strings.Contains(got, tt.wantText) {
				t.Errorf("text = %q, want it to contain %q", got, tt.wantText)
			}
		})
	}
}

func TestServer_Handler(t *testing.T) {
	srv, err := NewServer(testCatalog(t), "test")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if srv.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
