package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rhuss/codeact/pkg/tools"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"count": {"type": "number"}
	},
	"required": ["text"]
}`

func echoTool(name string) tools.Descriptor {
	return tools.Descriptor{
		Name:        name,
		Description: "Echo the text argument",
		Parameters:  json.RawMessage(echoSchema),
		Execute: func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"echo": args["text"]}, nil
		},
	}
}

func TestNew_Rejects(t *testing.T) {
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }

	tests := []struct {
		name  string
		descs []tools.Descriptor
		want  string
	}{
		{
			name:  "empty name",
			descs: []tools.Descriptor{{Execute: noop}},
			want:  "tool name is required",
		},
		{
			name:  "duplicate",
			descs: []tools.Descriptor{echoTool("echo"), echoTool("echo")},
			want:  `duplicate tool "echo"`,
		},
		{
			name:  "missing executor",
			descs: []tools.Descriptor{{Name: "broken"}},
			want:  "has no executor",
		},
		{
			name: "bad schema",
			descs: []tools.Descriptor{{
				Name:       "bad",
				Parameters: json.RawMessage(`{"type": 12}`),
				Execute:    noop,
			}},
			want: `tool "bad"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.descs...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestCatalog_ListOrderAndGet(t *testing.T) {
	c, err := New(echoTool("b"), echoTool("a"), echoTool("c"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := c.Names()
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
	if len(c.List()) != 3 || len(c.Definitions()) != 3 {
		t.Fatal("List and Definitions should return all entries")
	}

	if _, ok := c.Get("a"); !ok {
		t.Error("Get(a) should succeed")
	}
	if _, ok := c.Get("nonexistent"); ok {
		t.Error("Get(nonexistent) should report false")
	}
	if c.CanExecute("nonexistent") {
		t.Error("CanExecute(nonexistent) should be false")
	}
}

func TestCatalog_ListIsACopy(t *testing.T) {
	c, _ := New(echoTool("echo"))
	list := c.List()
	list[0].Name = "mutated"

	if _, ok := c.Get("echo"); !ok {
		t.Error("mutating List() result must not affect the catalog")
	}
}

func TestCatalog_Invoke(t *testing.T) {
	c, _ := New(echoTool("echo"))

	out, err := c.Invoke(context.Background(), "echo", map[string]any{"text": "hi", "count": 2})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.(map[string]any)["echo"] != "hi" {
		t.Errorf("out = %v", out)
	}
}

func TestCatalog_InvokeValidation(t *testing.T) {
	c, _ := New(echoTool("echo"))

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"nil args", nil},
		{"wrong type", map[string]any{"text": 5}},
		{"wrong nested type", map[string]any{"text": "x", "count": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Invoke(context.Background(), "echo", tt.args)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if verr.Tool != "echo" {
				t.Errorf("Tool = %q", verr.Tool)
			}
		})
	}
}

func TestCatalog_InvokeUnknown(t *testing.T) {
	c, _ := New(echoTool("echo"))

	_, err := c.Invoke(context.Background(), "nope", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("error = %v, want ErrUnknownTool", err)
	}
}

func TestCatalog_InvokeRecoversPanic(t *testing.T) {
	c, _ := New(tools.Descriptor{
		Name: "boom",
		Execute: func(context.Context, map[string]any) (any, error) {
			panic("kaboom")
		},
	})

	_, err := c.Invoke(context.Background(), "boom", nil)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("error = %v, want panic error", err)
	}
}

func TestCatalog_Execute(t *testing.T) {
	c, _ := New(echoTool("echo"), tools.Descriptor{
		Name: "fails",
		Execute: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("backend down")
		},
	})

	tests := []struct {
		name       string
		call       tools.ToolCall
		wantErr    bool
		wantOutput string
	}{
		{
			name:       "success",
			call:       tools.ToolCall{ID: "c1", Name: "echo", Arguments: `{"text":"hi"}`},
			wantOutput: `{"echo":"hi"}`,
		},
		{
			name:       "malformed json",
			call:       tools.ToolCall{ID: "c2", Name: "echo", Arguments: `{not json`},
			wantErr:    true,
			wantOutput: "invalid arguments for echo",
		},
		{
			name:       "schema violation",
			call:       tools.ToolCall{ID: "c3", Name: "echo", Arguments: `{}`},
			wantErr:    true,
			wantOutput: "invalid arguments for echo",
		},
		{
			name:       "unknown tool",
			call:       tools.ToolCall{ID: "c4", Name: "ghost", Arguments: `{}`},
			wantErr:    true,
			wantOutput: "unknown tool: ghost",
		},
		{
			name:       "tool error",
			call:       tools.ToolCall{ID: "c5", Name: "fails"},
			wantErr:    true,
			wantOutput: "backend down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Execute(context.Background(), tt.call)
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if res.CallID != tt.call.ID {
				t.Errorf("CallID = %q, want %q", res.CallID, tt.call.ID)
			}
			if res.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v (output %q)", res.IsError, tt.wantErr, res.Output)
			}
			if !strings.Contains(res.Output, tt.wantOutput) {
				t.Errorf("Output = %q, want it to contain %q", res.Output, tt.wantOutput)
			}
		})
	}
}
