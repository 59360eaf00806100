package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/rhuss/codeact/pkg/agent"
	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/storage"
	"github.com/rhuss/codeact/pkg/tools/builtins/fileops"
	"github.com/rhuss/codeact/pkg/tools/registry"
)

// ArtifactTypeFile marks artifacts produced by file writes.
const ArtifactTypeFile = "file"

// InvokeTool runs a catalog tool on behalf of userID and records the call
// as a task. When conversationID is set it must belong to the user, and a
// successful file write is also recorded as an artifact of that
// conversation. Argument validation failures are returned as
// invalid_request errors after the task is marked failed; any other tool
// failure is reported through the returned task.
func (s *Service) InvokeTool(ctx context.Context, userID, conversationID, name string, args map[string]any) (*api.InvokeToolResponse, error) {
	if s.tools == nil || !s.tools.CanExecute(name) {
		return nil, api.NewNotFoundError(fmt.Sprintf("tool %q not found", name))
	}
	if conversationID != "" {
		if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
			return nil, err
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	input, err := json.Marshal(args)
	if err != nil {
		return nil, api.NewInvalidRequestError("arguments", err.Error())
	}

	task := &api.Task{
		ID:             api.NewTaskID(),
		ConversationID: conversationID,
		UserID:         userID,
		TaskType:       name,
		Input:          input,
		CreatedAt:      s.now(),
	}
	if err := s.advance(ctx, task, api.TaskStatusPending); err != nil {
		return nil, err
	}
	if err := s.advance(ctx, task, api.TaskStatusRunning); err != nil {
		return nil, err
	}

	out, invokeErr := s.tools.Invoke(ctx, name, args)
	if invokeErr != nil {
		task.Error = invokeErr.Error()
		if err := s.advance(ctx, task, api.TaskStatusFailed); err != nil {
			return nil, err
		}
		var verr *registry.ValidationError
		if errors.As(invokeErr, &verr) {
			return nil, api.NewInvalidRequestError("arguments", verr.Error())
		}
		slog.Warn("tool invocation failed", "tool", name, "task_id", task.ID, "error", invokeErr)
		return &api.InvokeToolResponse{Task: task}, nil
	}

	if task.Output, err = json.Marshal(out); err != nil {
		task.Error = fmt.Sprintf("encoding result: %v", err)
		if err := s.advance(ctx, task, api.TaskStatusFailed); err != nil {
			return nil, err
		}
		return &api.InvokeToolResponse{Task: task}, nil
	}
	if err := s.advance(ctx, task, api.TaskStatusCompleted); err != nil {
		return nil, err
	}

	if wr, ok := out.(fileops.WriteResult); ok {
		content, _ := args["content"].(string)
		s.recordWrite(ctx, task, wr, content)
	}

	return &api.InvokeToolResponse{Task: task, Result: out}, nil
}

// advance moves task to status and persists it. The first transition
// creates the record.
func (s *Service) advance(ctx context.Context, task *api.Task, to api.TaskStatus) error {
	from := task.Status
	if apiErr := api.ValidateTaskTransition(from, to); apiErr != nil {
		return apiErr
	}
	task.Status = to
	if to.Terminal() {
		done := s.now()
		task.CompletedAt = &done
	}

	if from == "" {
		if err := s.store.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("creating task: %w", err)
		}
		return nil
	}
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// recordWrite stores a successful write as a file artifact of the task's
// conversation. Tasks without a conversation produce no artifact.
func (s *Service) recordWrite(ctx context.Context, task *api.Task, wr fileops.WriteResult, content string) {
	if !wr.Success || task.ConversationID == "" {
		return
	}
	meta, _ := json.Marshal(map[string]string{"path": wr.Path, "task_id": task.ID})
	art := &api.Artifact{
		ID:             api.NewArtifactID(),
		ConversationID: task.ConversationID,
		UserID:         task.UserID,
		Name:           path.Base(wr.Path),
		Type:           ArtifactTypeFile,
		Content:        content,
		Metadata:       meta,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateArtifact(ctx, art); err != nil {
		slog.Error("failed to record artifact", "task_id", task.ID, "path", wr.Path, "error", err)
	}
}

// recordToolCalls stores the calls the agent made during a reply as
// finished tasks of the conversation.
func (s *Service) recordToolCalls(ctx context.Context, conv *api.Conversation, calls []agent.ToolCallRecord) {
	for _, call := range calls {
		task := &api.Task{
			ID:             api.NewTaskID(),
			ConversationID: conv.ID,
			UserID:         conv.UserID,
			TaskType:       call.Name,
			Input:          asJSON(call.Arguments),
			CreatedAt:      s.now(),
		}
		to := api.TaskStatusCompleted
		if call.IsError {
			to = api.TaskStatusFailed
			task.Error = call.Output
		} else {
			task.Output = asJSON(call.Output)
		}

		var err error
		for _, status := range []api.TaskStatus{api.TaskStatusRunning, to} {
			if err = s.advance(ctx, task, status); err != nil {
				break
			}
		}
		if err != nil {
			slog.Error("failed to record tool call", "tool", call.Name, "conversation_id", conv.ID, "error", err)
			continue
		}

		if call.Name == fileops.Name && !call.IsError {
			var wr fileops.WriteResult
			var args struct {
				Content string `json:"content"`
			}
			if json.Unmarshal([]byte(call.Output), &wr) == nil && wr.Path != "" {
				_ = json.Unmarshal([]byte(call.Arguments), &args)
				s.recordWrite(ctx, task, wr, args.Content)
			}
		}
	}
}

// replyMetadata summarizes a tool loop run for the assistant message.
func replyMetadata(resp *agent.Response) []byte {
	if len(resp.ToolCalls) == 0 && resp.Finished {
		return nil
	}
	meta, err := json.Marshal(struct {
		ToolCalls []agent.ToolCallRecord `json:"tool_calls,omitempty"`
		Finished  bool                   `json:"finished"`
	}{resp.ToolCalls, resp.Finished})
	if err != nil {
		return nil
	}
	return meta
}

// asJSON returns s when it is valid JSON and a JSON string otherwise.
func asJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// ListTasks returns userID's tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, userID string) ([]*api.Task, error) {
	ts, err := s.store.ListTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return ts, nil
}

// GetTask returns a task owned by userID.
func (s *Service) GetTask(ctx context.Context, userID, id string) (*api.Task, error) {
	notFound := api.NewNotFoundError(fmt.Sprintf("task %q not found", id))
	if !api.ValidateTaskID(id) {
		return nil, notFound
	}
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	if t.UserID != userID {
		return nil, notFound
	}
	return t, nil
}

// ListArtifacts returns every artifact of userID, newest first.
func (s *Service) ListArtifacts(ctx context.Context, userID string) ([]*api.Artifact, error) {
	as, err := s.store.ListArtifactsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return as, nil
}

// ListConversationArtifacts returns a conversation's artifacts, newest first.
func (s *Service) ListConversationArtifacts(ctx context.Context, userID, conversationID string) ([]*api.Artifact, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	as, err := s.store.ListArtifactsByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return as, nil
}
