package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/tools/builtins/fileops"
)

func TestInvokeTool(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{})
	ctx := context.Background()

	resp, err := svc.InvokeTool(ctx, "u1", "", "execute_code", map[string]any{"code": "print(1)"})
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	task := resp.Task
	if task.Status != api.TaskStatusCompleted {
		t.Errorf("Status = %q, want completed", task.Status)
	}
	if task.TaskType != "execute_code" || task.CompletedAt == nil {
		t.Errorf("task = %+v", task)
	}
	var out map[string]any
	if err := json.Unmarshal(task.Output, &out); err != nil || out["success"] != true {
		t.Errorf("Output = %s", task.Output)
	}

	stored, err := svc.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if stored.Status != api.TaskStatusCompleted {
		t.Errorf("stored status = %q", stored.Status)
	}
	if _, err := svc.GetTask(ctx, "u2", task.ID); apiErrorType(err) != api.ErrorTypeNotFound {
		t.Errorf("foreign GetTask: got %v, want not_found", err)
	}
}

func TestInvokeToolErrors(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{})
	ctx := context.Background()
	other, _ := svc.CreateConversation(ctx, "u2", "")

	tests := []struct {
		name     string
		conv     string
		tool     string
		args     map[string]any
		wantType api.ErrorType
		wantTask bool
	}{
		{"unknown tool", "", "rm_rf", nil, api.ErrorTypeNotFound, false},
		{"foreign conversation", other.ID, "execute_code", map[string]any{"code": "x"}, api.ErrorTypeNotFound, false},
		{"schema violation", "", "execute_code", map[string]any{}, api.ErrorTypeInvalidRequest, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := svc.ListTasks(ctx, "u1")
			_, err := svc.InvokeTool(ctx, "u1", tt.conv, tt.tool, tt.args)
			if got := apiErrorType(err); got != tt.wantType {
				t.Fatalf("error type = %q, want %q (%v)", got, tt.wantType, err)
			}
			after, _ := svc.ListTasks(ctx, "u1")
			if tt.wantTask {
				if len(after) != len(before)+1 || after[0].Status != api.TaskStatusFailed || after[0].Error == "" {
					t.Errorf("expected a failed task to be recorded")
				}
			} else if len(after) != len(before) {
				t.Errorf("task recorded for rejected call")
			}
		})
	}
}

func TestInvokeToolFileWriteRecordsArtifact(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{})
	ctx := context.Background()
	c, _ := svc.CreateConversation(ctx, "u1", "")

	args := map[string]any{"operation": "write", "path": "notes/todo.md", "content": "# todo"}
	resp, err := svc.InvokeTool(ctx, "u1", c.ID, fileops.Name, args)
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if wr, ok := resp.Result.(fileops.WriteResult); !ok || !wr.Success {
		t.Fatalf("Result = %#v", resp.Result)
	}
	if resp.Task.ConversationID != c.ID {
		t.Errorf("task conversation = %q", resp.Task.ConversationID)
	}

	arts, err := svc.ListConversationArtifacts(ctx, "u1", c.ID)
	if err != nil {
		t.Fatalf("ListConversationArtifacts: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("got %d artifacts, want 1", len(arts))
	}
	a := arts[0]
	if a.Type != ArtifactTypeFile || a.Name != "todo.md" || a.Content != "# todo" || a.UserID != "u1" {
		t.Errorf("artifact = %+v", a)
	}

	all, _ := svc.ListArtifacts(ctx, "u1")
	if len(all) != 1 {
		t.Errorf("ListArtifacts = %d, want 1", len(all))
	}
}

func TestInvokeToolWithoutConversationRecordsNoArtifact(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{})
	ctx := context.Background()

	args := map[string]any{"operation": "write", "path": "a.txt", "content": "x"}
	if _, err := svc.InvokeTool(ctx, "u1", "", fileops.Name, args); err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	all, _ := svc.ListArtifacts(ctx, "u1")
	if len(all) != 0 {
		t.Errorf("ListArtifacts = %d, want 0", len(all))
	}
}

func TestInvokeToolPlaceholderOperation(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{})
	ctx := context.Background()
	c, _ := svc.CreateConversation(ctx, "u1", "")

	resp, err := svc.InvokeTool(ctx, "u1", c.ID, fileops.Name, map[string]any{"operation": "read", "path": "a.txt"})
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if resp.Task.Status != api.TaskStatusCompleted {
		t.Errorf("Status = %q", resp.Task.Status)
	}
	arts, _ := svc.ListConversationArtifacts(ctx, "u1", c.ID)
	if len(arts) != 0 {
		t.Errorf("placeholder read produced %d artifacts", len(arts))
	}
}

func TestSignIn(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{})
	ctx := context.Background()

	if _, err := svc.SignIn(ctx, &api.User{}); apiErrorType(err) != api.ErrorTypeUnauthorized {
		t.Errorf("empty identity: got %v", err)
	}
	u, err := svc.SignIn(ctx, &api.User{ID: "alice", Name: "Alice"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	got, err := svc.User(ctx, u.ID)
	if err != nil || got.Name != "Alice" {
		t.Errorf("User = %+v, %v", got, err)
	}
	if _, err := svc.User(ctx, "bob"); apiErrorType(err) != api.ErrorTypeNotFound {
		t.Errorf("unknown user: got %v", err)
	}
}

func TestSignInPromotesOwner(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{OwnerID: "owner"})
	ctx := context.Background()

	tests := []struct {
		id   string
		want api.UserRole
	}{
		{"owner", api.UserRoleAdmin},
		{"guest", api.UserRoleUser},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			u, err := svc.SignIn(ctx, &api.User{ID: tt.id})
			if err != nil {
				t.Fatalf("SignIn: %v", err)
			}
			if u.Role != tt.want {
				t.Errorf("role = %q, want %q", u.Role, tt.want)
			}
		})
	}
}

func TestToolsListing(t *testing.T) {
	svc, _ := newService(t, &fakeRunner{}, Config{})
	if n := len(svc.Tools()); n != 4 {
		t.Errorf("Tools() = %d entries, want 4", n)
	}
}
