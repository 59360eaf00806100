package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationConfig holds configurable limits for request validation.
type ValidationConfig struct {
	MaxContentSize int
	MaxTitleLength int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxContentSize: 1024 * 1024, // 1MB
		MaxTitleLength: 256,
	}
}

// ValidateSendMessage checks a SendMessageRequest. It returns an *APIError
// describing the first validation failure, or nil if the request is valid.
func ValidateSendMessage(req *SendMessageRequest, cfg ValidationConfig) *APIError {
	if strings.TrimSpace(req.Content) == "" {
		return NewInvalidRequestError("content", "content must not be empty")
	}
	if cfg.MaxContentSize > 0 && len(req.Content) > cfg.MaxContentSize {
		return NewInvalidRequestError("content",
			fmt.Sprintf("content exceeds maximum size of %d bytes", cfg.MaxContentSize))
	}
	return nil
}

// ValidateCreateConversation checks a CreateConversationRequest.
func ValidateCreateConversation(req *CreateConversationRequest, cfg ValidationConfig) *APIError {
	if cfg.MaxTitleLength > 0 && utf8.RuneCountInString(req.Title) > cfg.MaxTitleLength {
		return NewInvalidRequestError("title",
			fmt.Sprintf("title exceeds maximum length of %d characters", cfg.MaxTitleLength))
	}
	return nil
}

// ValidateInvokeTool checks an InvokeToolRequest.
func ValidateInvokeTool(req *InvokeToolRequest) *APIError {
	if req.ConversationID != "" && !ValidateConversationID(req.ConversationID) {
		return NewInvalidRequestError("conversation_id", "malformed conversation id")
	}
	return nil
}
