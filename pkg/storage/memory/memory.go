// Package memory provides an in-memory implementation of storage.Store for
// tests and single-node development. Data is lost when the process exits.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/storage"
)

// record pairs a stored value with its insertion sequence, which breaks
// ties between equal timestamps.
type record[T any] struct {
	v   T
	seq uint64
}

// Store is an in-memory storage.Store. Values are copied on the way in and
// out so callers cannot mutate stored state.
type Store struct {
	mu            sync.RWMutex
	seq           uint64
	users         map[string]api.User
	conversations map[string]record[api.Conversation]
	messages      map[string][]record[api.Message] // by conversation
	messageIDs    map[string]struct{}
	tasks         map[string]record[api.Task]
	artifacts     map[string]record[api.Artifact]
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]api.User),
		conversations: make(map[string]record[api.Conversation]),
		messages:      make(map[string][]record[api.Message]),
		messageIDs:    make(map[string]struct{}),
		tasks:         make(map[string]record[api.Task]),
		artifacts:     make(map[string]record[api.Artifact]),
	}
}

func (s *Store) next() uint64 {
	s.seq++
	return s.seq
}

// UpsertUser inserts or refreshes a user.
func (s *Store) UpsertUser(_ context.Context, u *api.User) (*api.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored, ok := s.users[u.ID]
	if !ok {
		stored = api.User{ID: u.ID, Role: api.UserRoleUser, CreatedAt: now}
	}
	if u.Name != "" {
		stored.Name = u.Name
	}
	if u.Email != "" {
		stored.Email = u.Email
	}
	if u.LoginMethod != "" {
		stored.LoginMethod = u.LoginMethod
	}
	if u.Role != "" {
		stored.Role = u.Role
	}
	stored.LastSignedIn = now
	s.users[u.ID] = stored

	out := stored
	return &out, nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(_ context.Context, id string) (*api.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

// CreateConversation stores a new conversation.
func (s *Store) CreateConversation(_ context.Context, c *api.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[c.ID]; exists {
		return storage.ErrConflict
	}
	s.conversations[c.ID] = record[api.Conversation]{v: *c, seq: s.next()}
	return nil
}

// GetConversation returns a conversation by ID.
func (s *Store) GetConversation(_ context.Context, id string) (*api.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := r.v
	return &c, nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (s *Store) ListConversations(_ context.Context, userID string) ([]*api.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []record[api.Conversation]
	for _, r := range s.conversations {
		if r.v.UserID == userID {
			matches = append(matches, r)
		}
	}
	slices.SortFunc(matches, func(a, b record[api.Conversation]) int {
		if c := b.v.UpdatedAt.Compare(a.v.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	return values(matches), nil
}

// UpdateConversation stores the conversation's title and update time.
func (s *Store) UpdateConversation(_ context.Context, c *api.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.conversations[c.ID]
	if !ok {
		return storage.ErrNotFound
	}
	r.v.Title = c.Title
	r.v.UpdatedAt = c.UpdatedAt
	s.conversations[c.ID] = r
	return nil
}

// CreateMessage appends a message to its conversation.
func (s *Store) CreateMessage(_ context.Context, m *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messageIDs[m.ID]; exists {
		return storage.ErrConflict
	}
	s.messageIDs[m.ID] = struct{}{}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID],
		record[api.Message]{v: *m, seq: s.next()})
	return nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Store) ListMessages(_ context.Context, conversationID string) ([]*api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return values(s.messages[conversationID]), nil
}

// CreateTask stores a new task.
func (s *Store) CreateTask(_ context.Context, t *api.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return storage.ErrConflict
	}
	s.tasks[t.ID] = record[api.Task]{v: *t, seq: s.next()}
	return nil
}

// GetTask returns a task by ID.
func (s *Store) GetTask(_ context.Context, id string) (*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	t := r.v
	return &t, nil
}

// UpdateTask stores the task's status, output, error and completion time.
func (s *Store) UpdateTask(_ context.Context, t *api.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.tasks[t.ID]
	if !ok {
		return storage.ErrNotFound
	}
	r.v.Status = t.Status
	r.v.Output = t.Output
	r.v.Error = t.Error
	r.v.CompletedAt = t.CompletedAt
	s.tasks[t.ID] = r
	return nil
}

// ListTasks returns a user's tasks, newest first.
func (s *Store) ListTasks(_ context.Context, userID string) ([]*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []record[api.Task]
	for _, r := range s.tasks {
		if r.v.UserID == userID {
			matches = append(matches, r)
		}
	}
	slices.SortFunc(matches, func(a, b record[api.Task]) int {
		if c := b.v.CreatedAt.Compare(a.v.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	return values(matches), nil
}

// CreateArtifact stores a new artifact.
func (s *Store) CreateArtifact(_ context.Context, a *api.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[a.ID]; exists {
		return storage.ErrConflict
	}
	s.artifacts[a.ID] = record[api.Artifact]{v: *a, seq: s.next()}
	return nil
}

// ListArtifactsByConversation returns a conversation's artifacts, newest first.
func (s *Store) ListArtifactsByConversation(_ context.Context, conversationID string) ([]*api.Artifact, error) {
	return s.listArtifacts(func(a api.Artifact) bool { return a.ConversationID == conversationID }), nil
}

// ListArtifactsByUser returns a user's artifacts, newest first.
func (s *Store) ListArtifactsByUser(_ context.Context, userID string) ([]*api.Artifact, error) {
	return s.listArtifacts(func(a api.Artifact) bool { return a.UserID == userID }), nil
}

func (s *Store) listArtifacts(match func(api.Artifact) bool) []*api.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []record[api.Artifact]
	for _, r := range s.artifacts {
		if match(r.v) {
			matches = append(matches, r)
		}
	}
	slices.SortFunc(matches, func(a, b record[api.Artifact]) int {
		if c := b.v.CreatedAt.Compare(a.v.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	return values(matches)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func values[T any](rs []record[T]) []*T {
	out := make([]*T, len(rs))
	for i, r := range rs {
		v := r.v
		out[i] = &v
	}
	return out
}
