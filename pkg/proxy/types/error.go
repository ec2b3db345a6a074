package types

import "net/http"

// ErrorResponse is the body of every error answered with a status code.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error and selects the status code.
	Type string `json:"type"`

	// Param is the request field that caused the error, if any.
	Param string `json:"param,omitempty"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// RetryAfter is a retry hint in whole seconds (0 if none).
	RetryAfter int `json:"retry_after,omitempty"`
}

// Error types.
const (
	ErrorTypeInvalidRequest     = "invalid_request_error"
	ErrorTypeAuthentication     = "authentication_error"
	ErrorTypeNotFound           = "not_found"
	ErrorTypeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorTypeServerError        = "server_error"
	ErrorTypeBadGateway         = "bad_gateway"
	ErrorTypeServiceUnavailable = "service_unavailable"
	ErrorTypeClientClosed       = "client_closed_request"
)

// Error codes.
const (
	CodeMissingField        = "missing_field"
	CodeInvalidValue        = "invalid_value"
	CodeInvalidJSON         = "invalid_json"
	CodeRequestTooLarge     = "request_too_large"
	CodeMissingIdentity     = "missing_identity"
	CodeCapacityExceeded    = "capacity_exceeded"
	CodeQueueTimeout        = "queue_timeout"
	CodeShuttingDown        = "shutting_down"
	CodeUpstreamRejected    = "upstream_rejected"
	CodeUpstreamRateLimited = "upstream_rate_limited"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeUpstreamError       = "upstream_error"
	CodeCancelled           = "cancelled"
	CodeInternalError       = "internal_error"
)

// StatusClientClosedRequest is the non-standard status logged for requests
// the client abandoned.
const StatusClientClosedRequest = 499

// NewErrorResponse creates a new error response with the given details.
func NewErrorResponse(message, errorType, param, code string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Param:   param,
			Code:    code,
		},
	}
}

// NewInvalidRequestError creates an error response for invalid requests (400).
func NewInvalidRequestError(message, param, code string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeInvalidRequest, param, code)
}

// NewServerError creates an error response for internal server errors (500).
func NewServerError(message string) *ErrorResponse {
	return NewErrorResponse(message, ErrorTypeServerError, "", CodeInternalError)
}

// HTTPStatusCode returns the HTTP status code for the error type.
func (e *ErrorDetail) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeBadGateway:
		return http.StatusBadGateway
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeClientClosed:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
