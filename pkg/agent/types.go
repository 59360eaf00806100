package agent

import (
	"time"

	"github.com/rhuss/codeact/pkg/tools/registry"
)

// Role tags a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message of the history fed to the model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Context is everything the orchestrator needs for one run. Turns are in
// chronological order and must not include the system instruction.
type Context struct {
	ConversationID string
	UserID         string
	Turns          []Turn
}

// ToolCallRecord describes one tool call made during a run.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Response is the result of a run.
type Response struct {
	Content string `json:"content"`

	// ToolCalls is empty unless the tool loop is enabled.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`

	// Finished is false only when the tool loop ran out of turns while the
	// model was still calling tools.
	Finished bool `json:"finished"`
}

// DefaultStreamDelay separates consecutive stream chunks.
const DefaultStreamDelay = 50 * time.Millisecond

// Config holds orchestrator settings.
type Config struct {
	// Model is passed to the provider verbatim.
	Model string

	// Temperature and MaxTokens are sent only when set.
	Temperature *float64
	MaxTokens   int

	// StreamDelay separates stream chunks. Zero means DefaultStreamDelay;
	// a negative value disables the delay.
	StreamDelay time.Duration

	// Tools is the catalog used by the tool loop.
	Tools *registry.Catalog

	// MaxToolTurns bounds the tool loop. Zero keeps single-shot behavior.
	MaxToolTurns int

	// AllowedTools restricts which catalog entries the model may call.
	// Empty allows all of them.
	AllowedTools []string
}

func (c Config) toolLoop() bool {
	return c.MaxToolTurns > 0 && c.Tools != nil
}
