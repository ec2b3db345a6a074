package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"mercator-hq/switchboard/pkg/proxy/types"
)

// DefaultMaxBodyBytes bounds a chat request body when no limit is configured.
const DefaultMaxBodyBytes = 64 * 1024

// ParseStreamRequest decodes and validates the body of a streaming chat
// request. Bodies larger than maxBytes are rejected.
func ParseStreamRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (*types.StreamRequest, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	defer body.Close()

	var req types.StreamRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &RequestError{
				Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", maxBytes),
				Code:    types.CodeRequestTooLarge,
				Param:   "body",
			}
		}
		return nil, &RequestError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
			Code:    types.CodeInvalidJSON,
			Param:   "body",
		}
	}

	if err := req.Validate(); err != nil {
		var valErr *types.ValidationError
		if errors.As(err, &valErr) {
			code := types.CodeInvalidValue
			if req.Message == "" && valErr.Field == "message" {
				code = types.CodeMissingField
			}
			return nil, &RequestError{Message: valErr.Message, Code: code, Param: valErr.Field}
		}
		return nil, err
	}
	return &req, nil
}

// RequestError represents a request parsing or validation error.
type RequestError struct {
	Message string
	Code    string
	Param   string
}

func (e *RequestError) Error() string {
	return e.Message
}

// ToErrorResponse converts a RequestError to an error response.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	return types.NewInvalidRequestError(e.Message, e.Param, e.Code)
}
