// Package server exposes a sandbox.Backend over HTTP. It is the process
// that runs inside sandbox pods and the peer of the remote backend.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/codeact/pkg/debug"
	"github.com/rhuss/codeact/pkg/sandbox"
)

const maxBodyBytes = 10 * 1024 * 1024

// Config bounds the server's resource usage.
type Config struct {
	// MaxConcurrent caps in-flight executions and installs (default: 3).
	MaxConcurrent int

	// MaxSessions caps live sessions (default: 16).
	MaxSessions int

	// IdleTimeout closes sessions unused for this long (default: 10m).
	IdleTimeout time.Duration

	// DefaultTimeout applies when a request carries no timeout (default: 30s).
	DefaultTimeout time.Duration

	// MaxTimeout caps requested timeouts (default: 5m).
	MaxTimeout time.Duration

	// RuntimeVersion is reported by /health.
	RuntimeVersion string
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 16
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = sandbox.DefaultTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 5 * time.Minute
	}
}

// Server serves a sandbox backend over HTTP.
type Server struct {
	backend   sandbox.Backend
	cfg       Config
	load      atomic.Int32
	startTime time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu       sync.Mutex
	inst     sandbox.Instance
	lastUsed time.Time
}

// New creates a Server for backend.
func New(backend sandbox.Backend, cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		backend:   backend,
		cfg:       cfg,
		startTime: time.Now(),
		sessions:  make(map[string]*session),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /sessions/{id}/execute", s.handleSessionExecute)
	mux.HandleFunc("POST /sessions/{id}/install", s.handleInstall)
	mux.HandleFunc("GET /sessions/{id}/files", s.handleList)
	mux.HandleFunc("GET /sessions/{id}/file", s.handleRead)
	mux.HandleFunc("PUT /sessions/{id}/file", s.handleWrite)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Reap closes idle sessions until ctx is done.
func (s *Server) Reap(ctx context.Context) {
	interval := s.cfg.IdleTimeout / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

func (s *Server) reapIdle(now time.Time) {
	s.mu.Lock()
	var idle []*session
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue // in use
		}
		if now.Sub(sess.lastUsed) > s.cfg.IdleTimeout {
			delete(s.sessions, id)
			idle = append(idle, sess)
			slog.Info("reaping idle sandbox session", "session", id)
		}
		sess.mu.Unlock()
	}
	s.mu.Unlock()

	for _, sess := range idle {
		if err := sess.inst.Close(); err != nil {
			slog.Warn("closing idle session failed", "error", err)
		}
	}
}

// Close tears down every live session.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		sess.mu.Lock()
		if err := sess.inst.Close(); err != nil {
			errs = append(errs, err)
		}
		sess.mu.Unlock()
	}
	return errors.Join(errs...)
}

// --- Execute handlers ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	release, ok := s.acquireSlot(w)
	if !ok {
		return
	}
	defer release()

	var req ExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	prog, errMsg := s.program(&req)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, errMsg)
		return
	}

	inst, err := s.backend.Open(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "provisioning sandbox: "+err.Error())
		return
	}
	defer func() {
		if err := inst.Close(); err != nil {
			slog.Warn("sandbox teardown failed", "error", err)
		}
	}()

	for _, pkg := range req.Requirements {
		out, err := inst.Install(r.Context(), pkg, "")
		if err != nil || out.ExitCode != 0 || out.TimedOut {
			msg := "package installation failed: " + pkg
			if err != nil {
				msg += ": " + err.Error()
			} else if out.Stderr != "" {
				msg += ": " + out.Stderr
			}
			writeJSON(w, http.StatusOK, ExecuteResponse{Status: "error", Stderr: msg, ExitCode: -1})
			return
		}
	}

	s.run(w, r, inst, prog)
}

func (s *Server) handleSessionExecute(w http.ResponseWriter, r *http.Request) {
	release, ok := s.acquireSlot(w)
	if !ok {
		return
	}
	defer release()

	var req ExecuteRequest
	if !decode(w, r, &req) {
		return
	}
	prog, errMsg := s.program(&req)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, errMsg)
		return
	}
	s.withSession(w, r, func(inst sandbox.Instance) {
		s.run(w, r, inst, prog)
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, inst sandbox.Instance, prog sandbox.Program) {
	slog.Info("execute request",
		"code", debug.Truncate(prog.Code, 120),
		"timeout", prog.Timeout,
		"memory_mb", prog.MemoryLimitMB,
	)
	start := time.Now()
	out, err := inst.Run(r.Context(), prog)
	duration := time.Since(start)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	resp := toResponse(out, duration)
	slog.Info("execute complete",
		"status", resp.Status,
		"exit_code", resp.ExitCode,
		"duration_ms", resp.ExecutionTimeMs,
		"stdout_len", len(resp.Stdout),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	release, ok := s.acquireSlot(w)
	if !ok {
		return
	}
	defer release()

	var req InstallRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Package == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "package is required")
		return
	}
	s.withSession(w, r, func(inst sandbox.Instance) {
		start := time.Now()
		out, err := inst.Install(r.Context(), req.Package, req.Version)
		if err != nil {
			writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toResponse(out, time.Since(start)))
	})
}

// --- Session handlers ---

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	full := len(s.sessions) >= s.cfg.MaxSessions
	s.mu.Unlock()
	if full {
		writeError(w, http.StatusTooManyRequests, CodeAtCapacity,
			fmt.Sprintf("at capacity (%d sessions)", s.cfg.MaxSessions))
		return
	}

	inst, err := s.backend.Open(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "provisioning sandbox: "+err.Error())
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.mu.Unlock()
		inst.Close()
		writeError(w, http.StatusTooManyRequests, CodeAtCapacity,
			fmt.Sprintf("at capacity (%d sessions)", s.cfg.MaxSessions))
		return
	}
	s.sessions[id] = &session{inst: inst, lastUsed: time.Now()}
	s.mu.Unlock()

	debug.Log("sandbox", "session created", "session", id)
	writeJSON(w, http.StatusCreated, SessionResponse{ID: id})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, CodeSessionNotFound, "session not found")
		return
	}
	sess.mu.Lock()
	err := sess.inst.Close()
	sess.mu.Unlock()
	if err != nil {
		slog.Warn("closing session failed", "session", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	s.withSession(w, r, func(inst sandbox.Instance) {
		files, err := inst.List(r.Context(), p)
		if err != nil {
			writeFileError(w, err)
			return
		}
		if files == nil {
			files = []string{}
		}
		writeJSON(w, http.StatusOK, FilesResponse{Path: p, Files: files})
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	s.withSession(w, r, func(inst sandbox.Instance) {
		content, err := inst.Read(r.Context(), p)
		if err != nil {
			writeFileError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, FileContent{Path: p, Content: content})
	})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	var req FileContent
	if !decode(w, r, &req) {
		return
	}
	s.withSession(w, r, func(inst sandbox.Instance) {
		if err := inst.Write(r.Context(), p, req.Content); err != nil {
			writeFileError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// withSession runs fn with exclusive access to the session named in the path.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, fn func(sandbox.Instance)) {
	id := r.PathValue("id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, CodeSessionNotFound, "session not found")
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastUsed = time.Now()
	fn(sess.inst)
}

// --- Health handler ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Backend:        s.backend.Name(),
		RuntimeVersion: s.cfg.RuntimeVersion,
		Capacity:       s.cfg.MaxConcurrent,
		CurrentLoad:    int(s.load.Load()),
		Sessions:       n,
		UptimeSecs:     int64(time.Since(s.startTime).Seconds()),
	})
}

// --- Helpers ---

// acquireSlot reserves an execution slot or writes a 429.
func (s *Server) acquireSlot(w http.ResponseWriter) (func(), bool) {
	current := s.load.Add(1)
	if int(current) > s.cfg.MaxConcurrent {
		s.load.Add(-1)
		writeError(w, http.StatusTooManyRequests, CodeAtCapacity,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.cfg.MaxConcurrent))
		return nil, false
	}
	return func() { s.load.Add(-1) }, true
}

func (s *Server) program(req *ExecuteRequest) (sandbox.Program, string) {
	if req.Code == "" {
		return sandbox.Program{}, "code is required"
	}
	lang := sandbox.Language(req.Language)
	if lang == "" {
		lang = sandbox.Python
	}
	if !lang.Supported() {
		return sandbox.Program{}, fmt.Sprintf("unsupported language %q", req.Language)
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout > s.cfg.MaxTimeout {
		timeout = s.cfg.MaxTimeout
	}
	mem := req.MemoryLimitMB
	if mem <= 0 {
		mem = sandbox.DefaultMemoryLimitMB
	}
	return sandbox.Program{Code: req.Code, Language: lang, Timeout: timeout, MemoryLimitMB: mem}, ""
}

func toResponse(out *sandbox.Output, d time.Duration) ExecuteResponse {
	status := "success"
	if out.ExitCode != 0 || out.TimedOut {
		status = "error"
	}
	return ExecuteResponse{
		Status:          status,
		Stdout:          out.Stdout,
		Stderr:          out.Stderr,
		ExitCode:        out.ExitCode,
		TimedOut:        out.TimedOut,
		ExecutionTimeMs: d.Milliseconds(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

func writeFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, sandbox.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, CodeInvalidPath, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
