package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/auth"
	"github.com/rhuss/codeact/pkg/transport"
)

// Adapter serves the codeact API over HTTP.
// It routes requests to the Service and serializes responses.
type Adapter struct {
	svc      transport.Service
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 10 << 20, // 10 MB
	}
}

// CancelResponse reports how many in-flight replies a cancel request
// stopped.
type CancelResponse struct {
	ConversationID string `json:"conversation_id"`
	Cancelled      int    `json:"cancelled"`
}

// NewAdapter creates an HTTP adapter for svc. Every route expects an
// authenticated identity in the request context (see auth.Middleware).
func NewAdapter(svc transport.Service, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		svc:      svc,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("GET /v1/me", a.handleMe)
	a.mux.HandleFunc("POST /v1/conversations", a.handleCreateConversation)
	a.mux.HandleFunc("GET /v1/conversations", a.handleListConversations)
	a.mux.HandleFunc("GET /v1/conversations/{id}", a.handleGetConversation)
	a.mux.HandleFunc("GET /v1/conversations/{id}/messages", a.handleListMessages)
	a.mux.HandleFunc("POST /v1/conversations/{id}/messages", a.handleSendMessage)
	a.mux.HandleFunc("POST /v1/conversations/{id}/cancel", a.handleCancel)
	a.mux.HandleFunc("GET /v1/conversations/{id}/artifacts", a.handleListConversationArtifacts)
	a.mux.HandleFunc("GET /v1/artifacts", a.handleListArtifacts)
	a.mux.HandleFunc("GET /v1/tasks", a.handleListTasks)
	a.mux.HandleFunc("GET /v1/tasks/{id}", a.handleGetTask)
	a.mux.HandleFunc("GET /v1/tools", a.handleListTools)
	a.mux.HandleFunc("POST /v1/tools/{name}/invoke", a.handleInvokeTool)

	return a
}

// Handle registers an additional handler on the adapter's mux, for
// endpoints served next to the API (health, metrics, MCP).
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return a.mux
}

// InFlight exposes the registry of replies being produced.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// userID returns the authenticated subject, writing a 401 when the
// request carries no identity.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		transport.WriteAPIError(w, api.NewUnauthorizedError("authentication required"))
	}
	return id, ok
}

// decode reads a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func (a *Adapter) decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
				http.StatusUnsupportedMediaType,
			)
			return false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return true
	case allowEmpty && errors.Is(err, io.EOF):
		return true
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
			http.StatusRequestEntityTooLarge,
		)
		return false
	}
	transport.WriteErrorResponse(w,
		api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
		http.StatusBadRequest,
	)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

// handleMe handles GET /v1/me.
func (a *Adapter) handleMe(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := a.svc.User(r.Context(), uid)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleCreateConversation handles POST /v1/conversations.
func (a *Adapter) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req api.CreateConversationRequest
	if !a.decode(w, r, &req, true) {
		return
	}
	conv, err := a.svc.CreateConversation(r.Context(), uid, req.Title)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// handleListConversations handles GET /v1/conversations.
func (a *Adapter) handleListConversations(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	convs, err := a.svc.ListConversations(r.Context(), uid)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewList(convs))
}

// handleGetConversation handles GET /v1/conversations/{id}.
func (a *Adapter) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	conv, err := a.svc.GetConversation(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleListMessages handles GET /v1/conversations/{id}/messages.
func (a *Adapter) handleListMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	msgs, err := a.svc.ListMessages(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewList(msgs))
}

// handleSendMessage handles POST /v1/conversations/{id}/messages. With
// stream set the reply is delivered as server-sent events.
func (a *Adapter) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req api.SendMessageRequest
	if !a.decode(w, r, &req, false) {
		return
	}

	convID := r.PathValue("id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	remove := a.inflight.Register(convID, cancel)
	defer remove()

	if req.Stream {
		a.streamMessage(ctx, w, uid, convID, req.Content)
		return
	}

	resp, err := a.svc.SendMessage(ctx, uid, convID, req.Content)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Adapter) streamMessage(ctx context.Context, w http.ResponseWriter, uid, convID, content string) {
	events, err := a.svc.StreamMessage(ctx, uid, convID, content)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	sw := newSSEWriter(w)
	for event := range events {
		if err := sw.WriteEvent(event); err != nil {
			// The client went away; stopping the range ends the reply
			// without persisting it.
			slog.Debug("stream write failed", "conversation_id", convID, "error", err)
			return
		}
	}
}

// handleCancel handles POST /v1/conversations/{id}/cancel. It stops every
// reply of the conversation that is still being produced.
func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	convID := r.PathValue("id")
	if _, err := a.svc.GetConversation(r.Context(), uid, convID); err != nil {
		transport.WriteError(w, err)
		return
	}
	n := a.inflight.Cancel(convID)
	slog.Info("conversation cancelled", "conversation_id", convID, "cancelled", n)
	writeJSON(w, http.StatusOK, CancelResponse{ConversationID: convID, Cancelled: n})
}

// handleListConversationArtifacts handles GET /v1/conversations/{id}/artifacts.
func (a *Adapter) handleListConversationArtifacts(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	arts, err := a.svc.ListConversationArtifacts(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewList(arts))
}

// handleListArtifacts handles GET /v1/artifacts.
func (a *Adapter) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	arts, err := a.svc.ListArtifacts(r.Context(), uid)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewList(arts))
}

// handleListTasks handles GET /v1/tasks.
func (a *Adapter) handleListTasks(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	tasks, err := a.svc.ListTasks(r.Context(), uid)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.NewList(tasks))
}

// handleGetTask handles GET /v1/tasks/{id}.
func (a *Adapter) handleGetTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	task, err := a.svc.GetTask(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleListTools handles GET /v1/tools.
func (a *Adapter) handleListTools(w http.ResponseWriter, r *http.Request) {
	if _, ok := userID(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, api.NewList(a.svc.Tools()))
}

// handleInvokeTool handles POST /v1/tools/{name}/invoke.
func (a *Adapter) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req api.InvokeToolRequest
	if !a.decode(w, r, &req, true) {
		return
	}
	if apiErr := api.ValidateInvokeTool(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	resp, err := a.svc.InvokeTool(r.Context(), uid, req.ConversationID, r.PathValue("name"), req.Arguments)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
