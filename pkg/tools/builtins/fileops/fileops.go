// Package fileops provides the file_operations tool. Writes land in a
// shared sandbox workspace that is provisioned on first use; the remaining
// operations are declared but inert.
package fileops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/tools"
)

// Name is the catalog key of the tool.
const Name = "file_operations"

// Operations accepted by the tool.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpList   = "list"
	OpDelete = "delete"
)

// Parameters is the JSON Schema for file_operations arguments.
var Parameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "operation": {
      "type": "string",
      "enum": ["read", "write", "list", "delete"],
      "description": "The file operation to perform"
    },
    "path": {"type": "string", "description": "The file path"},
    "content": {"type": "string", "description": "The content to write (for write operation)"}
  },
  "required": ["operation", "path"]
}`)

// WriteResult is returned by a write. It carries the sandbox result plus
// the path that was written.
type WriteResult struct {
	sandbox.ResultJSON
	Path string `json:"path"`
}

// Tool implements file_operations.
type Tool struct {
	sb *sandbox.Sandbox

	mu sync.Mutex
	ws *sandbox.Session
}

// New creates the tool on top of sb.
func New(sb *sandbox.Sandbox) *Tool {
	return &Tool{sb: sb}
}

// Descriptor returns the catalog entry for the tool.
func (t *Tool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Perform file operations such as reading, writing, listing, and deleting files.",
		Parameters:  Parameters,
		Execute:     t.execute,
	}
}

func (t *Tool) execute(ctx context.Context, args map[string]any) (any, error) {
	op, err := tools.StringArg(args, "operation")
	if err != nil {
		return nil, err
	}
	p, err := tools.StringArg(args, "path")
	if err != nil {
		return nil, err
	}

	slog.Debug("file operation", "operation", op, "path", p)

	if op != OpWrite {
		return tools.Placeholder(fmt.Sprintf("File operation '%s'", op), nil), nil
	}

	content, err := tools.StringArg(args, "content")
	if err != nil {
		return nil, err
	}
	ws, err := t.workspace(ctx)
	if err != nil {
		return nil, err
	}
	res := ws.Write(ctx, p, content)
	return WriteResult{ResultJSON: sandbox.Wire(res), Path: p}, nil
}

// workspace returns the shared session, opening it on first use. A failed
// open is retried on the next call.
func (t *Tool) workspace(ctx context.Context) (*sandbox.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ws != nil {
		return t.ws, nil
	}
	ws, err := t.sb.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening file workspace: %w", err)
	}
	t.ws = ws
	return ws, nil
}

// Close tears down the workspace, if one was opened.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ws == nil {
		return nil
	}
	err := t.ws.Close()
	t.ws = nil
	return err
}
