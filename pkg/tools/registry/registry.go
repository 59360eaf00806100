// Package registry holds the fixed tool catalog. A Catalog is built once at
// startup from a list of descriptors and is read-only afterwards, so it can
// be shared across goroutines without locking.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/observability"
	"github.com/rhuss/codeact/pkg/tools"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownTool is returned when no catalog entry has the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type entry struct {
	desc   tools.Descriptor
	schema *jsonschema.Schema
}

// Catalog is an immutable, ordered set of tool descriptors.
type Catalog struct {
	entries []entry
	index   map[string]int
}

var _ tools.ToolExecutor = (*Catalog)(nil)

// New builds a catalog. Names must be unique and non-empty, every
// descriptor needs an Execute function, and every parameter schema must
// compile.
func New(descs ...tools.Descriptor) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(descs))}

	var errs []error
	for _, d := range descs {
		if d.Name == "" {
			errs = append(errs, errors.New("tool name is required"))
			continue
		}
		if _, dup := c.index[d.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate tool %q", d.Name))
			continue
		}
		if d.Execute == nil {
			errs = append(errs, fmt.Errorf("tool %q has no executor", d.Name))
			continue
		}

		schema, err := compile(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %q: %w", d.Name, err))
			continue
		}

		c.index[d.Name] = len(c.entries)
		c.entries = append(c.entries, entry{desc: d, schema: schema})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	slog.Info("tool catalog ready", "tools", len(c.entries))
	return c, nil
}

func compile(d tools.Descriptor) (*jsonschema.Schema, error) {
	if len(d.Parameters) == 0 {
		return nil, nil
	}
	return jsonschema.CompileString(d.Name+".schema.json", string(d.Parameters))
}

// List returns every descriptor in registration order.
func (c *Catalog) List() []tools.Descriptor {
	out := make([]tools.Descriptor, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.desc
	}
	return out
}

// Get looks up a descriptor by name.
func (c *Catalog) Get(name string) (tools.Descriptor, bool) {
	i, ok := c.index[name]
	if !ok {
		return tools.Descriptor{}, false
	}
	return c.entries[i].desc, true
}

// Names returns the tool names in registration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.desc.Name
	}
	return names
}

// Definitions returns the catalog as listing entries for the API and the
// model.
func (c *Catalog) Definitions() []api.ToolInfo {
	out := make([]api.ToolInfo, len(c.entries))
	for i, e := range c.entries {
		out[i] = api.ToolInfo{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			Parameters:  e.desc.Parameters,
		}
	}
	return out
}

// Invoke validates args against the tool's schema and runs it. A panic in
// the tool is recovered and returned as an error.
func (c *Catalog) Invoke(ctx context.Context, name string, args map[string]any) (out any, err error) {
	i, ok := c.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	e := c.entries[i]

	if args == nil {
		args = map[string]any{}
	}
	if err := e.validate(args); err != nil {
		observability.ToolExecutionsTotal.WithLabelValues(name, "invalid").Inc()
		return nil, err
	}

	debug.Log("tools", "invoking tool", "tool", name)
	start := time.Now()

	defer func() {
		status := "success"
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			out, err = nil, fmt.Errorf("internal error: tool %q panicked", name)
			status = "panic"
		} else if err != nil {
			status = "error"
		}
		observability.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		observability.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	return e.desc.Execute(ctx, args)
}

// validate round-trips args through JSON so the validator sees the same
// value types a decoded request body would have.
func (e entry) validate(args map[string]any) error {
	if e.schema == nil {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Tool: e.desc.Name, Err: err}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &ValidationError{Tool: e.desc.Name, Err: err}
	}
	if err := e.schema.Validate(doc); err != nil {
		return &ValidationError{Tool: e.desc.Name, Err: err}
	}
	return nil
}

// CanExecute reports whether the catalog has a tool with this name.
func (c *Catalog) CanExecute(toolName string) bool {
	_, ok := c.index[toolName]
	return ok
}

// Execute runs a model-issued call. Every failure, including malformed
// arguments and unknown tools, is reported as an error result so it can be
// fed back to the model.
func (c *Catalog) Execute(ctx context.Context, call tools.ToolCall) (*tools.ToolResult, error) {
	var args map[string]any
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return errorResult(call.ID, fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)), nil
		}
	}

	out, err := c.Invoke(ctx, call.Name, args)
	if err != nil {
		return errorResult(call.ID, err.Error()), nil
	}

	data, err := json.Marshal(out)
	if err != nil {
		return errorResult(call.ID, fmt.Sprintf("encoding result of %s: %v", call.Name, err)), nil
	}
	return &tools.ToolResult{CallID: call.ID, Output: string(data)}, nil
}

func errorResult(callID, msg string) *tools.ToolResult {
	return &tools.ToolResult{CallID: callID, Output: msg, IsError: true}
}
