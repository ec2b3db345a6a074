package proxy

import (
	"errors"
	"math"
	"time"

	"mercator-hq/switchboard/pkg/chat"
	"mercator-hq/switchboard/pkg/proxy/types"
)

// HandleError converts an error returned before streaming started into an
// error response.
func HandleError(err error) *types.ErrorResponse {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.ToErrorResponse()
	}

	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		resp := handleChatError(chatErr)
		resp.Error.RetryAfter = retryAfterSeconds(chatErr.RetryAfter)
		return resp
	}

	return types.NewServerError("An internal error occurred. Please try again later.")
}

func handleChatError(err *chat.Error) *types.ErrorResponse {
	switch err.Kind {
	case chat.KindInvalidRequest:
		return types.NewInvalidRequestError(err.Message, "", types.CodeInvalidValue)
	case chat.KindCapacityExceeded:
		return types.NewErrorResponse(err.Message, types.ErrorTypeServiceUnavailable, "", types.CodeCapacityExceeded)
	case chat.KindQueueTimeout:
		return types.NewErrorResponse(err.Message, types.ErrorTypeRateLimitExceeded, "", types.CodeQueueTimeout)
	case chat.KindShuttingDown:
		return types.NewErrorResponse(err.Message, types.ErrorTypeServiceUnavailable, "", types.CodeShuttingDown)
	case chat.KindUnauthorized:
		return types.NewErrorResponse(err.Message, types.ErrorTypeAuthentication, "", types.CodeUpstreamRejected)
	case chat.KindRateLimited:
		return types.NewErrorResponse(err.Message, types.ErrorTypeRateLimitExceeded, "", types.CodeUpstreamRateLimited)
	case chat.KindUpstreamUnavailable:
		return types.NewErrorResponse(err.Message, types.ErrorTypeServiceUnavailable, "", types.CodeUpstreamUnavailable)
	case chat.KindCancelled:
		return types.NewErrorResponse(err.Message, types.ErrorTypeClientClosed, "", types.CodeCancelled)
	default:
		return types.NewErrorResponse(err.Message, types.ErrorTypeBadGateway, "", types.CodeUpstreamError)
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
