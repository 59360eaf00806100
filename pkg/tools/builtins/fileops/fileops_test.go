package fileops

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rhuss/codeact/pkg/sandbox"
	"github.com/rhuss/codeact/pkg/sandbox/mock"
)

func newTool(t *testing.T, cfg mock.Config) (*Tool, *mock.Backend) {
	t.Helper()
	backend := mock.New(cfg)
	tool := New(sandbox.New(backend, sandbox.Config{}))
	t.Cleanup(func() { tool.Close() })
	return tool, backend
}

func TestPlaceholderOperations(t *testing.T) {
	tool, backend := newTool(t, mock.Config{})

	for _, op := range []string{OpRead, OpList, OpDelete} {
		t.Run(op, func(t *testing.T) {
			out, err := tool.Descriptor().Execute(context.Background(), map[string]any{
				"operation": op,
				"path":      "/data.csv",
			})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			data, _ := json.Marshal(out)
			want := `{"message":"File operation '` + op + `' is not yet implemented. This is a placeholder response.","success":true}`
			if string(data) != want {
				t.Errorf("got %s\nwant %s", data, want)
			}
		})
	}

	if backend.Opened() != 0 {
		t.Errorf("placeholder operations opened %d instances, want 0", backend.Opened())
	}
}

func TestWrite(t *testing.T) {
	tool, backend := newTool(t, mock.Config{})
	ctx := context.Background()

	for i, p := range []string{"/notes/a.txt", "/notes/b.txt"} {
		out, err := tool.Descriptor().Execute(ctx, map[string]any{
			"operation": OpWrite,
			"path":      p,
			"content":   "hello " + p,
		})
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		res := out.(WriteResult)
		if !res.Success || res.Output != "File written successfully: "+p || res.Path != p {
			t.Errorf("write %d = %+v", i, res)
		}
	}

	if backend.Opened() != 1 {
		t.Errorf("opened %d workspaces, want 1", backend.Opened())
	}

	got, err := tool.Read(ctx, "/notes/b.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "hello /notes/b.txt" {
		t.Errorf("Read = %q", got)
	}

	if err := tool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if backend.Closed() != 1 {
		t.Errorf("closed %d workspaces, want 1", backend.Closed())
	}
}

func TestWriteRejectsEscape(t *testing.T) {
	tool, _ := newTool(t, mock.Config{})

	out, err := tool.Descriptor().Execute(context.Background(), map[string]any{
		"operation": OpWrite,
		"path":      "../etc/passwd",
		"content":   "x",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res := out.(WriteResult); res.Success {
		t.Errorf("write outside the workspace succeeded: %+v", res)
	}
}

func TestWorkspaceOpenFailure(t *testing.T) {
	tool, _ := newTool(t, mock.Config{OpenErr: errors.New("no capacity")})

	_, err := tool.Descriptor().Execute(context.Background(), map[string]any{
		"operation": OpWrite,
		"path":      "a.txt",
		"content":   "x",
	})
	if err == nil {
		t.Fatal("expected error when the workspace cannot be opened")
	}
}
