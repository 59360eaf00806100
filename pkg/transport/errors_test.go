package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/codeact/pkg/agent"
	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/storage"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name       string
		errType    api.ErrorType
		wantStatus int
	}{
		{"invalid_request -> 400", api.ErrorTypeInvalidRequest, http.StatusBadRequest},
		{"unauthorized -> 401", api.ErrorTypeUnauthorized, http.StatusUnauthorized},
		{"forbidden -> 403", api.ErrorTypeForbidden, http.StatusForbidden},
		{"not_found -> 404", api.ErrorTypeNotFound, http.StatusNotFound},
		{"too_many_requests -> 429", api.ErrorTypeTooManyRequests, http.StatusTooManyRequests},
		{"server_error -> 500", api.ErrorTypeServerError, http.StatusInternalServerError},
		{"model_error -> 500", api.ErrorTypeModelError, http.StatusInternalServerError},
		{"unknown type -> 500", api.ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &api.APIError{Type: tt.errType, Message: "test"}
			got := HTTPStatusFromError(err)
			if got != tt.wantStatus {
				t.Errorf("HTTPStatusFromError(%q) = %d, want %d", tt.errType, got, tt.wantStatus)
			}
		})
	}
}

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType api.ErrorType
		wantMsg  string
	}{
		{
			name:     "api error passes through",
			err:      api.NewInvalidRequestError("content", "content is required"),
			wantType: api.ErrorTypeInvalidRequest,
			wantMsg:  "content is required",
		},
		{
			name:     "wrapped api error",
			err:      fmt.Errorf("sending: %w", api.NewNotFoundError("conversation not found")),
			wantType: api.ErrorTypeNotFound,
			wantMsg:  "conversation not found",
		},
		{
			name:     "orchestration error hides cause",
			err:      &agent.OrchestrationError{Op: agent.OpRun, Err: api.NewModelError("upstream 502")},
			wantType: api.ErrorTypeServerError,
			wantMsg:  "failed to run agent",
		},
		{
			name:     "orchestration rate limit",
			err:      &agent.OrchestrationError{Op: agent.OpStream, Err: api.NewTooManyRequestsError("slow down")},
			wantType: api.ErrorTypeTooManyRequests,
			wantMsg:  "failed to stream agent response",
		},
		{
			name:     "storage not found",
			err:      fmt.Errorf("loading task: %w", storage.ErrNotFound),
			wantType: api.ErrorTypeNotFound,
			wantMsg:  "resource not found",
		},
		{
			name:     "cancelled",
			err:      context.Canceled,
			wantType: api.ErrorTypeServerError,
			wantMsg:  "request cancelled",
		},
		{
			name:     "unknown",
			err:      errors.New("disk on fire"),
			wantType: api.ErrorTypeServerError,
			wantMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorFrom(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	apiErr := api.NewInvalidRequestError("title", "is too long")
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, apiErr, http.StatusBadRequest)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Error.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", resp.Error.Type, api.ErrorTypeInvalidRequest)
	}
	if resp.Error.Param != "title" {
		t.Errorf("error param = %q, want %q", resp.Error.Param, "title")
	}
	if resp.Error.Message != "is too long" {
		t.Errorf("error message = %q, want %q", resp.Error.Message, "is too long")
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid_request", api.NewInvalidRequestError("content", "is required"), http.StatusBadRequest},
		{"not_found", storage.ErrNotFound, http.StatusNotFound},
		{"orchestration", &agent.OrchestrationError{Err: errors.New("boom")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp api.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error == nil {
				t.Fatal("error envelope is empty")
			}
		})
	}
}
