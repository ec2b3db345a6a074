package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on Switchboard spans.
const (
	AttrClientID        = attribute.Key("switchboard.client_id")
	AttrRequestID       = attribute.Key("switchboard.request_id")
	AttrSessionID       = attribute.Key("switchboard.session_id")
	AttrConversationID  = attribute.Key("switchboard.conversation_id")
	AttrPriority        = attribute.Key("switchboard.priority")
	AttrOperationClass  = attribute.Key("switchboard.upstream.class")
	AttrAttempts        = attribute.Key("switchboard.upstream.attempts")
	AttrAnswerBytes     = attribute.Key("switchboard.answer_bytes")
	AttrFollowUpSource  = attribute.Key("switchboard.follow_up.source")
	AttrFollowUpCount   = attribute.Key("switchboard.follow_up.count")
	AttrTerminalOutcome = attribute.Key("switchboard.outcome")
)

// SetTurnAttributes annotates a chat turn span with its identifiers.
func SetTurnAttributes(span trace.Span, requestID, clientID, priority string) {
	span.SetAttributes(
		AttrRequestID.String(requestID),
		AttrClientID.String(clientID),
		AttrPriority.String(priority),
	)
}

// AddEvent adds a named event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
