package tools

// PlaceholderSuffix ends every placeholder message.
const PlaceholderSuffix = "is not yet implemented. This is a placeholder response."

// Placeholder builds the result of a capability that is declared but inert.
// It reports success=true so callers can tell it apart from a failure.
// Extra fields are merged into the result.
func Placeholder(subject string, extra map[string]any) map[string]any {
	res := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		res[k] = v
	}
	res["success"] = true
	res["message"] = subject + " " + PlaceholderSuffix
	return res
}
