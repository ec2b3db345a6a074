package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// ClientIDKey is the context key for the resolved client identity.
	ClientIDKey contextKey = "client_id"

	// SessionIDKey is the context key for stream session identifiers.
	SessionIDKey contextKey = "session_id"

	// ConversationIDKey is the context key for upstream conversation handles.
	ConversationIDKey contextKey = "conversation_id"
)

// contextFields lists the keys copied onto every record, in output order.
var contextFields = []contextKey{RequestIDKey, ClientIDKey, SessionIDKey, ConversationIDKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithClientID adds a client identity to the context.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}

// GetClientID retrieves the client identity from the context.
func GetClientID(ctx context.Context) string {
	return getString(ctx, ClientIDKey)
}

// WithSessionID adds a stream session identifier to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the stream session identifier from the context.
func GetSessionID(ctx context.Context) string {
	return getString(ctx, SessionIDKey)
}

// WithConversationID adds an upstream conversation handle to the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// GetConversationID retrieves the upstream conversation handle from the context.
func GetConversationID(ctx context.Context) string {
	return getString(ctx, ConversationIDKey)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	for _, key := range contextFields {
		if v := getString(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}
