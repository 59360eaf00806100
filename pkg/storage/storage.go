package storage

import (
	"context"

	"github.com/rhuss/codeact/pkg/api"
)

// Store persists the conversation domain. Implementations must be safe for
// concurrent use. Get and Update methods return ErrNotFound for unknown IDs,
// Create methods return ErrConflict for duplicate IDs.
type Store interface {
	// UpsertUser inserts the user or refreshes its profile fields and
	// LastSignedIn. Empty profile fields leave stored values untouched. An
	// empty Role keeps the stored role (or "user" for new records).
	UpsertUser(ctx context.Context, u *api.User) (*api.User, error)
	GetUser(ctx context.Context, id string) (*api.User, error)

	CreateConversation(ctx context.Context, c *api.Conversation) error
	GetConversation(ctx context.Context, id string) (*api.Conversation, error)
	// ListConversations returns a user's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]*api.Conversation, error)
	// UpdateConversation stores Title and UpdatedAt.
	UpdateConversation(ctx context.Context, c *api.Conversation) error

	CreateMessage(ctx context.Context, m *api.Message) error
	// ListMessages returns a conversation's messages in the order they
	// were created.
	ListMessages(ctx context.Context, conversationID string) ([]*api.Message, error)

	CreateTask(ctx context.Context, t *api.Task) error
	GetTask(ctx context.Context, id string) (*api.Task, error)
	// UpdateTask stores Status, Output, Error and CompletedAt.
	UpdateTask(ctx context.Context, t *api.Task) error
	// ListTasks returns a user's tasks, newest first.
	ListTasks(ctx context.Context, userID string) ([]*api.Task, error)

	CreateArtifact(ctx context.Context, a *api.Artifact) error
	// ListArtifactsByConversation and ListArtifactsByUser return newest first.
	ListArtifactsByConversation(ctx context.Context, conversationID string) ([]*api.Artifact, error)
	ListArtifactsByUser(ctx context.Context, userID string) ([]*api.Artifact, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
