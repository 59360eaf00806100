package api

import "fmt"

// ValidateTaskTransition checks whether a task status transition is valid.
// An empty "from" status represents a task that has not been stored yet.
// Terminal states (completed, failed) do not allow outgoing transitions.
func ValidateTaskTransition(from, to TaskStatus) *APIError {
	valid := map[TaskStatus][]TaskStatus{
		"":                {TaskStatusPending, TaskStatusRunning},
		TaskStatusPending: {TaskStatusRunning, TaskStatusFailed},
		TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed},
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("status",
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}
