package types

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageRunes bounds the length of a single user message.
const MaxMessageRunes = 8000

// StreamRequest is the body of the streaming chat endpoint.
type StreamRequest struct {
	// Message is the user's text. Required.
	Message string `json:"message"`

	// Priority optionally overrides the priority header ("high" or
	// "normal").
	Priority string `json:"priority,omitempty"`
}

// ValidationError reports an invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks the request.
func (r *StreamRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	if utf8.RuneCountInString(r.Message) > MaxMessageRunes {
		return &ValidationError{Field: "message", Message: "message is too long"}
	}
	switch strings.ToLower(strings.TrimSpace(r.Priority)) {
	case "", "normal", "high":
	default:
		return &ValidationError{Field: "priority", Message: `priority must be "normal" or "high"`}
	}
	return nil
}
