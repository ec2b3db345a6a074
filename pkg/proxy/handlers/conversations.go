package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/switchboard/pkg/proxy"
	"mercator-hq/switchboard/pkg/proxy/types"
)

// ConversationHandler inspects and invalidates cached conversation handles.
//
//	GET    /v1/conversations/{user}
//	DELETE /v1/conversations/{user}
//
// Invalidation makes the next turn of the user resolve a conversation from
// scratch.
type ConversationHandler struct {
	Conversations Conversations
	Logger        *slog.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(c Conversations, logger *slog.Logger) *ConversationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationHandler{Conversations: c, Logger: logger.With("component", "conversation_handler")}
}

// ServeHTTP implements http.Handler. The user is taken from the {user} path
// wildcard.
func (h *ConversationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.PathValue("user"))
	if user == "" {
		h.write(w, r, http.StatusBadRequest, types.NewInvalidRequestError("user is required", "user", types.CodeMissingField))
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		entry, ok := h.Conversations.Get(user)
		if !ok {
			h.write(w, r, http.StatusNotFound, types.NewErrorResponse(
				"no conversation is cached for the user", types.ErrorTypeNotFound, "user", "conversation_not_found"))
			return
		}
		h.write(w, r, http.StatusOK, types.ConversationResponse{
			ClientID:       entry.ClientID,
			ConversationID: entry.ConversationID,
			CreatedAt:      entry.CreatedAt,
			LastAccess:     entry.LastAccess,
			AccessCount:    entry.AccessCount,
		})

	case http.MethodDelete:
		forgotten, err := h.Conversations.Invalidate(r.Context(), user)
		if err != nil {
			h.Logger.ErrorContext(r.Context(), "failed to invalidate conversation", "client_id", user, "error", err)
			h.write(w, r, http.StatusInternalServerError, types.NewServerError("failed to forget the conversation"))
			return
		}
		h.Logger.InfoContext(r.Context(), "conversation invalidated", "client_id", user, "forgotten", forgotten)
		h.write(w, r, http.StatusOK, types.ForgetResponse{ClientID: user, Forgotten: forgotten})

	default:
		w.Header().Set("Allow", "GET, HEAD, DELETE")
		h.write(w, r, http.StatusMethodNotAllowed, types.NewErrorResponse(
			"Method "+r.Method+" not allowed", types.ErrorTypeInvalidRequest, "method", "method_not_allowed"))
	}
}

func (h *ConversationHandler) write(w http.ResponseWriter, r *http.Request, status int, body any) {
	if err := proxy.WriteJSONResponse(w, status, body); err != nil {
		h.Logger.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}
