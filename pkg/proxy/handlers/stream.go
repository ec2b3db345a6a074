package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/switchboard/pkg/admission"
	"mercator-hq/switchboard/pkg/chat"
	"mercator-hq/switchboard/pkg/proxy"
	"mercator-hq/switchboard/pkg/proxy/middleware"
	"mercator-hq/switchboard/pkg/proxy/types"
)

// StreamHandler serves the streaming chat endpoint. The response is either
// a JSON error with a status code, when the turn fails before its session
// opens, or an event stream that always ends with one terminal frame.
type StreamHandler struct {
	Service      Streamer
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewStreamHandler creates a new streaming handler.
func NewStreamHandler(svc Streamer, maxBodyBytes int64, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		Service:      svc,
		MaxBodyBytes: maxBodyBytes,
		Logger:       logger.With("component", "stream_handler"),
	}
}

// ServeHTTP implements http.Handler.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, r, types.NewErrorResponse(
			"Method "+r.Method+" not allowed. Use POST instead.",
			types.ErrorTypeInvalidRequest, "method", "method_not_allowed",
		))
		return
	}

	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		h.writeError(w, r, types.NewErrorResponse(
			"the request carries no client identity",
			types.ErrorTypeAuthentication, "", types.CodeMissingIdentity,
		))
		return
	}

	body, err := proxy.ParseStreamRequest(w, r, h.MaxBodyBytes)
	if err != nil {
		h.Logger.WarnContext(ctx, "rejected chat request", "error", err)
		h.writeError(w, r, proxy.HandleError(err))
		return
	}

	priority := middleware.GetPriority(ctx)
	if body.Priority != "" {
		priority = admission.ParsePriority(body.Priority)
	}

	start := time.Now()
	transport := proxy.NewSSETransport(w)
	err = h.Service.Stream(ctx, chat.Request{
		Identity:  identity,
		RequestID: middleware.GetRequestID(ctx),
		Priority:  priority,
		Message:   body.Message,
	}, transport)

	if err == nil {
		h.Logger.DebugContext(ctx, "stream finished", "duration", time.Since(start))
		return
	}
	if transport.Started() {
		// The session already ended the stream with an error frame.
		h.Logger.WarnContext(ctx, "stream ended with error", "error", err)
		return
	}
	h.Logger.WarnContext(ctx, "chat turn rejected", "error", err, "duration", time.Since(start))
	h.writeError(w, r, proxy.HandleError(err))
}

func (h *StreamHandler) writeError(w http.ResponseWriter, r *http.Request, errResp *types.ErrorResponse) {
	if err := proxy.WriteErrorResponse(w, errResp); err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to write error response", "error", err)
	}
}
