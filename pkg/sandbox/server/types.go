package server

// ExecuteRequest is the body of POST /execute and POST /sessions/{id}/execute.
type ExecuteRequest struct {
	Code          string   `json:"code"`
	Language      string   `json:"language,omitempty"`
	TimeoutMs     int64    `json:"timeout_ms,omitempty"`
	MemoryLimitMB int      `json:"memory_limit_mb,omitempty"`
	Requirements  []string `json:"requirements,omitempty"`
}

// ExecuteResponse reports what the instance captured. Status is "success"
// when the program exited with code zero and "error" otherwise.
type ExecuteResponse struct {
	Status          string `json:"status"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exit_code"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// InstallRequest is the body of POST /sessions/{id}/install.
type InstallRequest struct {
	Package string `json:"package"`
	Version string `json:"version,omitempty"`
}

// SessionResponse is returned by POST /sessions.
type SessionResponse struct {
	ID string `json:"id"`
}

// FilesResponse is returned by GET /sessions/{id}/files.
type FilesResponse struct {
	Path  string   `json:"path"`
	Files []string `json:"files"`
}

// FileContent is returned by GET and accepted by PUT /sessions/{id}/file.
type FileContent struct {
	Path    string `json:"path,omitempty"`
	Content string `json:"content"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeNotFound        = "not_found"
	CodeInvalidPath     = "invalid_path"
	CodeSessionNotFound = "session_not_found"
	CodeAtCapacity      = "at_capacity"
	CodeInvalidRequest  = "invalid_request"
	CodeInternal        = "internal"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Backend        string `json:"backend"`
	RuntimeVersion string `json:"runtime_version,omitempty"`
	Capacity       int    `json:"capacity"`
	CurrentLoad    int    `json:"current_load"`
	Sessions       int    `json:"sessions"`
	UptimeSecs     int64  `json:"uptime_seconds"`
}
