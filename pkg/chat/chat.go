package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/rhuss/codeact/pkg/agent"
	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/storage"
)

// Runner produces assistant replies. *agent.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, c agent.Context) (*agent.Response, error)
	Stream(ctx context.Context, c agent.Context) iter.Seq2[string, error]
}

// ToolInvoker runs catalog tools directly. *registry.Catalog implements it.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
	CanExecute(name string) bool
	Definitions() []api.ToolInfo
}

var _ Runner = (*agent.Orchestrator)(nil)

// Config holds service settings.
type Config struct {
	// HistoryLimit caps the number of stored turns sent to the model,
	// keeping the most recent. Zero sends the whole conversation.
	HistoryLimit int

	// Validation bounds message content and conversation titles.
	Validation api.ValidationConfig

	// OwnerID is promoted to the admin role whenever it signs in.
	OwnerID string
}

// Service implements the conversation flows on top of a Store.
type Service struct {
	store  storage.Store
	runner Runner
	tools  ToolInvoker
	cfg    Config
	locks  *convLocks
	now    func() time.Time
}

// New creates a Service. tools may be nil, in which case the tool
// endpoints report every tool as unknown.
func New(store storage.Store, runner Runner, tools ToolInvoker, cfg Config) (*Service, error) {
	if store == nil {
		return nil, errors.New("chat: store is required")
	}
	if runner == nil {
		return nil, errors.New("chat: runner is required")
	}
	if cfg.Validation == (api.ValidationConfig{}) {
		cfg.Validation = api.DefaultValidationConfig()
	}
	return &Service{
		store:  store,
		runner: runner,
		tools:  tools,
		cfg:    cfg,
		locks:  newConvLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SignIn records a sign-in for u, creating the user on first contact.
func (s *Service) SignIn(ctx context.Context, u *api.User) (*api.User, error) {
	if u == nil || u.ID == "" {
		return nil, api.NewUnauthorizedError("missing user identity")
	}
	if s.cfg.OwnerID != "" && u.ID == s.cfg.OwnerID {
		cp := *u
		cp.Role = api.UserRoleAdmin
		u = &cp
	}
	out, err := s.store.UpsertUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return out, nil
}

// User returns the stored profile of userID.
func (s *Service) User(ctx context.Context, userID string) (*api.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, api.NewNotFoundError("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

// CreateConversation starts a new conversation for userID. An empty title
// becomes api.DefaultConversationTitle.
func (s *Service) CreateConversation(ctx context.Context, userID, title string) (*api.Conversation, error) {
	if apiErr := api.ValidateCreateConversation(&api.CreateConversationRequest{Title: title}, s.cfg.Validation); apiErr != nil {
		return nil, apiErr
	}
	if title == "" {
		title = api.DefaultConversationTitle
	}

	now := s.now()
	c := &api.Conversation{
		ID:        api.NewConversationID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	debug.Log("chat", "conversation created", "conversation_id", c.ID, "user_id", userID)
	return c, nil
}

// ListConversations returns userID's conversations, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*api.Conversation, error) {
	cs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return cs, nil
}

// GetConversation returns a conversation owned by userID.
func (s *Service) GetConversation(ctx context.Context, userID, id string) (*api.Conversation, error) {
	if !api.ValidateConversationID(id) {
		return nil, conversationNotFound(id)
	}
	c, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, conversationNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if c.UserID != userID {
		return nil, conversationNotFound(id)
	}
	return c, nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]*api.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return msgs, nil
}

// SendMessage stores content as a user message, asks the agent for a
// reply and stores that too. When the agent fails the user message stays
// stored and no assistant message is written. Sends to one conversation
// run one at a time.
func (s *Service) SendMessage(ctx context.Context, userID, conversationID, content string) (*api.SendMessageResponse, error) {
	conv, err := s.prepareSend(ctx, userID, conversationID, content)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	userMsg, actx, err := s.appendUserTurn(ctx, conv, content)
	if err != nil {
		return nil, err
	}

	resp, err := s.runner.Run(ctx, actx)
	if err != nil {
		return nil, err
	}

	s.recordToolCalls(ctx, conv, resp.ToolCalls)

	assistantMsg, err := s.finishTurn(ctx, conv, resp.Content, replyMetadata(resp))
	if err != nil {
		return nil, err
	}
	return &api.SendMessageResponse{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// StreamMessage is the streaming form of SendMessage. Ownership and
// content are checked before it returns; everything else happens while
// the returned sequence is consumed. The sequence emits message.created
// for the stored user message, one message.delta per chunk, and ends with
// message.completed carrying the stored reply or message.failed. Stopping
// the iteration early abandons the reply without storing it.
func (s *Service) StreamMessage(ctx context.Context, userID, conversationID, content string) (iter.Seq[api.StreamEvent], error) {
	conv, err := s.prepareSend(ctx, userID, conversationID, content)
	if err != nil {
		return nil, err
	}

	return func(yield func(api.StreamEvent) bool) {
		seq := 0
		emit := func(ev api.StreamEvent) bool {
			ev.SequenceNumber = seq
			ev.ConversationID = conversationID
			seq++
			return yield(ev)
		}
		fail := func(err error) {
			emit(api.StreamEvent{Type: api.EventMessageFailed, Error: streamError(err)})
		}

		unlock, err := s.locks.acquire(ctx, conversationID)
		if err != nil {
			fail(err)
			return
		}
		defer unlock()

		userMsg, actx, err := s.appendUserTurn(ctx, conv, content)
		if err != nil {
			fail(err)
			return
		}
		if !emit(api.StreamEvent{Type: api.EventMessageCreated, Message: userMsg}) {
			return
		}

		var reply []byte
		for chunk, err := range s.runner.Stream(ctx, actx) {
			if err != nil {
				fail(err)
				return
			}
			reply = append(reply, chunk...)
			if !emit(api.StreamEvent{Type: api.EventMessageDelta, Delta: chunk}) {
				return
			}
		}

		assistantMsg, err := s.finishTurn(ctx, conv, string(reply), nil)
		if err != nil {
			fail(err)
			return
		}
		emit(api.StreamEvent{Type: api.EventMessageCompleted, Message: assistantMsg})
	}, nil
}

func (s *Service) prepareSend(ctx context.Context, userID, conversationID, content string) (*api.Conversation, error) {
	if apiErr := api.ValidateSendMessage(&api.SendMessageRequest{Content: content}, s.cfg.Validation); apiErr != nil {
		return nil, apiErr
	}
	return s.GetConversation(ctx, userID, conversationID)
}

// appendUserTurn stores the user message and builds the agent context
// from the full stored history.
func (s *Service) appendUserTurn(ctx context.Context, conv *api.Conversation, content string) (*api.Message, agent.Context, error) {
	msg := &api.Message{
		ID:             api.NewMessageID(),
		ConversationID: conv.ID,
		Role:           api.RoleUser,
		Content:        content,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, agent.Context{}, fmt.Errorf("storing user message: %w", err)
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, agent.Context{}, fmt.Errorf("loading history: %w", err)
	}
	return msg, agent.Context{
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		Turns:          s.turns(history),
	}, nil
}

func (s *Service) turns(history []*api.Message) []agent.Turn {
	if s.cfg.HistoryLimit > 0 && len(history) > s.cfg.HistoryLimit {
		history = history[len(history)-s.cfg.HistoryLimit:]
	}
	turns := make([]agent.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, agent.Turn{Role: agent.Role(m.Role), Content: m.Content})
	}
	return turns
}

// finishTurn stores the assistant reply and bumps the conversation's
// update time.
func (s *Service) finishTurn(ctx context.Context, conv *api.Conversation, content string, metadata []byte) (*api.Message, error) {
	now := s.now()
	msg := &api.Message{
		ID:             api.NewMessageID(),
		ConversationID: conv.ID,
		Role:           api.RoleAssistant,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("storing assistant message: %w", err)
	}

	touched := *conv
	touched.UpdatedAt = now
	if err := s.store.UpdateConversation(ctx, &touched); err != nil {
		slog.Warn("failed to touch conversation", "conversation_id", conv.ID, "error", err)
	}
	return msg, nil
}

// Tools lists the tool catalog.
func (s *Service) Tools() []api.ToolInfo {
	if s.tools == nil {
		return nil
	}
	return s.tools.Definitions()
}

func conversationNotFound(id string) *api.APIError {
	return api.NewNotFoundError(fmt.Sprintf("conversation %q not found", id))
}

// streamError converts a failure inside a stream into the error carried by
// a message.failed event. Orchestration faults keep their generic message.
func streamError(err error) *api.APIError {
	var oe *agent.OrchestrationError
	if errors.As(err, &oe) {
		return api.NewServerError(oe.Error())
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return api.NewServerError("request cancelled")
	}
	slog.Error("stream failed", "error", err)
	return api.NewServerError("internal server error")
}
