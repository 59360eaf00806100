package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rhuss/codeact/pkg/api"
	goopenai "github.com/sashabaranov/go-openai"
)

// mapError converts a go-openai error into an APIError, keyed on the
// backend's HTTP status. Context errors pass through unchanged so callers
// can tell cancellation apart from backend faults.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return mapStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return mapStatus(reqErr.HTTPStatusCode, msg)
	}

	return api.NewServerError(fmt.Sprintf("backend connection error: %s", err.Error()))
}

func mapStatus(status int, message string) *api.APIError {
	switch {
	case status == http.StatusBadRequest:
		if message == "" {
			message = "invalid request to backend"
		}
		return api.NewInvalidRequestError("", message)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if message == "" {
			message = "backend authentication failed"
		}
		return api.NewModelError(message)

	case status == http.StatusNotFound:
		if message == "" {
			message = "backend resource not found"
		}
		return api.NewModelError(message)

	case status == http.StatusTooManyRequests:
		if message == "" {
			message = "backend rate limit exceeded"
		}
		return api.NewTooManyRequestsError(message)

	case status >= http.StatusInternalServerError:
		if message == "" {
			message = fmt.Sprintf("backend server error (HTTP %d)", status)
		}
		return api.NewModelError(message)

	default:
		if message == "" {
			message = fmt.Sprintf("unexpected backend error (HTTP %d)", status)
		}
		return api.NewServerError(message)
	}
}
