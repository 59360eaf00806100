package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rhuss/codeact/pkg/agent"
	"github.com/rhuss/codeact/pkg/api"
	"github.com/rhuss/codeact/pkg/storage"
)

// HTTPStatusFromError maps an APIError type to the corresponding HTTP status
// code. Transport-level errors (body too large, unsupported content type)
// are handled separately by the HTTP adapter.
func HTTPStatusFromError(err *api.APIError) int {
	switch err.Type {
	case api.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case api.ErrorTypeForbidden:
		return http.StatusForbidden
	case api.ErrorTypeNotFound:
		return http.StatusNotFound
	case api.ErrorTypeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFrom converts an error returned by the service into an APIError.
// Orchestration faults keep their generic message; unknown errors are
// logged and reported as an opaque server error.
func ErrorFrom(err error) *api.APIError {
	var oe *agent.OrchestrationError
	if errors.As(err, &oe) {
		var cause *api.APIError
		if errors.As(oe.Err, &cause) && cause.Type == api.ErrorTypeTooManyRequests {
			return api.NewTooManyRequestsError(oe.Error())
		}
		return api.NewServerError(oe.Error())
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError("resource not found")
	case errors.Is(err, context.DeadlineExceeded):
		return api.NewServerError("request timed out")
	case errors.Is(err, context.Canceled):
		return api.NewServerError("request cancelled")
	}

	slog.Error("unhandled service error", "error", err)
	return api.NewServerError("internal server error")
}

// WriteErrorResponse writes a JSON error response using the ErrorResponse
// wrapper format from pkg/api. It sets the Content-Type header and writes
// the HTTP status code.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes an APIError response, deriving the HTTP status code
// from the error type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, HTTPStatusFromError(apiErr))
}

// WriteError converts err with ErrorFrom and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteAPIError(w, ErrorFrom(err))
}
