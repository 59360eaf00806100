package transport

import (
	"context"
	"iter"

	"github.com/rhuss/codeact/pkg/api"
)

// Service is the contract between the HTTP adapter and the conversation
// flows. Every method is scoped to the authenticated user.
type Service interface {
	User(ctx context.Context, userID string) (*api.User, error)

	CreateConversation(ctx context.Context, userID, title string) (*api.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*api.Conversation, error)
	GetConversation(ctx context.Context, userID, id string) (*api.Conversation, error)

	ListMessages(ctx context.Context, userID, conversationID string) ([]*api.Message, error)
	SendMessage(ctx context.Context, userID, conversationID, content string) (*api.SendMessageResponse, error)

	// StreamMessage validates the request and returns the event sequence
	// of the reply. The sequence must be consumed to release the
	// conversation.
	StreamMessage(ctx context.Context, userID, conversationID, content string) (iter.Seq[api.StreamEvent], error)

	Tools() []api.ToolInfo
	InvokeTool(ctx context.Context, userID, conversationID, name string, args map[string]any) (*api.InvokeToolResponse, error)

	ListTasks(ctx context.Context, userID string) ([]*api.Task, error)
	GetTask(ctx context.Context, userID, id string) (*api.Task, error)

	ListArtifacts(ctx context.Context, userID string) ([]*api.Artifact, error)
	ListConversationArtifacts(ctx context.Context, userID, conversationID string) ([]*api.Artifact, error)
}

// HealthChecker reports whether a dependency is ready to serve.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f(ctx).
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}
