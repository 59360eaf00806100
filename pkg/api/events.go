package api

// StreamEventType identifies the type of a streaming event.
type StreamEventType string

const (
	EventMessageCreated   StreamEventType = "message.created"
	EventMessageDelta     StreamEventType = "message.delta"
	EventMessageCompleted StreamEventType = "message.completed"
	EventMessageFailed    StreamEventType = "message.failed"
)

// StreamEvent represents a single server-sent event in a streamed reply.
type StreamEvent struct {
	Type           StreamEventType `json:"type"`
	SequenceNumber int             `json:"sequence_number"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	Error          *APIError       `json:"error,omitempty"`
}
