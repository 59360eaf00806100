package tools

import (
	"context"
	"encoding/json"
)

// Executor runs a tool with arguments that have already been validated
// against the tool's parameter schema. The returned value is the
// capability-specific result object; it must be JSON-serializable.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// Descriptor declares one invocable capability. Descriptors are immutable
// once registered.
type Descriptor struct {
	// Name is the unique key the model and API use to address the tool.
	Name string

	Description string

	// Parameters is a JSON Schema object describing accepted arguments.
	Parameters json.RawMessage

	Execute Executor
}

// ToolExecutor executes model-issued tool calls.
type ToolExecutor interface {
	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool and returns the result. Tool faults are
	// reported through ToolResult.IsError, not the error return.
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolCall represents a model's request to invoke a tool.
type ToolCall struct {
	// ID is the unique call identifier (from the model, e.g., "call_abc123").
	ID string

	// Name is the tool function name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Output is the JSON-encoded result object, or an error message.
	Output string

	// IsError indicates that the output is an error message.
	IsError bool
}
