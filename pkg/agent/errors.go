package agent

import "fmt"

// Operations reported by OrchestrationError.
const (
	OpRun    = "run"
	OpStream = "stream"
)

// OrchestrationError is returned when the model cannot produce a reply.
// Its message is deliberately generic; the cause is available through
// Unwrap and is logged in full where it occurs.
type OrchestrationError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *OrchestrationError) Error() string {
	if e.Op == OpStream {
		return "failed to stream agent response"
	}
	return "failed to run agent"
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// Detail renders the error with its cause, for logs.
func (e *OrchestrationError) Detail() string {
	return fmt.Sprintf("%s (op=%s conversation=%s): %v", e.Error(), e.Op, e.ConversationID, e.Err)
}
