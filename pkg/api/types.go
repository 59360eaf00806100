package api

import (
	"encoding/json"
	"time"
)

// DefaultConversationTitle is used when a conversation is created without a title.
const DefaultConversationTitle = "New Conversation"

// UserRole distinguishes ordinary users from administrators.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// User is an authenticated principal. The ID is the identity subject.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Email        string    `json:"email,omitempty"`
	LoginMethod  string    `json:"login_method,omitempty"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastSignedIn time.Time `json:"last_signed_in"`
}

// Conversation is a chat thread owned by a single user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one persisted turn of a conversation.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task records a single tool invocation made on behalf of a user.
type Task struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UserID         string          `json:"user_id"`
	Status         TaskStatus      `json:"status"`
	TaskType       string          `json:"task_type"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Artifact is a file or result produced while serving a conversation.
type Artifact struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Content        string          `json:"content,omitempty"`
	StorageURL     string          `json:"storage_url,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// SendMessageRequest is the body of POST /v1/conversations/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
	Stream  bool   `json:"stream,omitempty"`
}

// SendMessageResponse carries both persisted turns of a completed exchange.
type SendMessageResponse struct {
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
}

// InvokeToolRequest is the body of POST /v1/tools/{name}/invoke.
type InvokeToolRequest struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Arguments      map[string]any `json:"arguments"`
}

// InvokeToolResponse reports the recorded task and the tool's result data.
type InvokeToolResponse struct {
	Task   *Task `json:"task"`
	Result any   `json:"result"`
}

// ToolInfo describes one catalog entry for listing.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ListResponse is the generic envelope for collection endpoints.
type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

// NewList wraps items in a ListResponse, never returning a nil Data slice.
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Object: "list", Data: items}
}
