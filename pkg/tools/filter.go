package tools

import "slices"

// FilterResult splits model-issued calls into those the agent may run and
// those it must refuse.
type FilterResult struct {
	Allowed []ToolCall

	// Rejected holds one error result per refused call, ready to be fed
	// back to the model.
	Rejected []ToolResult
}

// FilterAllowedTools checks each call against the allow list. An empty list
// permits every call. Call order is preserved within each group.
func FilterAllowedTools(calls []ToolCall, allowedTools []string) FilterResult {
	if len(allowedTools) == 0 {
		return FilterResult{Allowed: calls}
	}

	var res FilterResult
	for _, call := range calls {
		if slices.Contains(allowedTools, call.Name) {
			res.Allowed = append(res.Allowed, call)
			continue
		}
		res.Rejected = append(res.Rejected, ToolResult{
			CallID:  call.ID,
			Output:  "tool " + call.Name + " is not enabled for this agent",
			IsError: true,
		})
	}
	return res
}
