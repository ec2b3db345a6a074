package upstream

import (
	"context"
	"time"
)

// Client is the contract Switchboard consumes from the upstream
// conversational-AI provider. Implementations must be safe for concurrent use.
//
// Retries are not the client's concern: every call is a single attempt and
// callers wrap it in a resilience guard.
type Client interface {
	// Name returns the upstream name used in logs, metrics and errors.
	Name() string

	// CreateConversation creates a new upstream conversation for the client.
	CreateConversation(ctx context.Context, id Identity) (Conversation, error)

	// ListRecentConversations returns at most limit conversations of the
	// client, most recent first.
	ListRecentConversations(ctx context.Context, id Identity, limit int) ([]Conversation, error)

	// OpenChatStream sends a user message and returns the upstream event
	// sequence. The returned stream must be closed by the caller.
	OpenChatStream(ctx context.Context, req ChatRequest) (EventStream, error)

	// GetVariables reads named variables scoped to the client. Variables that
	// are unset are absent from the result.
	GetVariables(ctx context.Context, id Identity, names []string) (map[string]string, error)

	// SetVariables writes variables scoped to the client.
	SetVariables(ctx context.Context, id Identity, values map[string]string) error
}

// Identity is the resolved client identity and its time-boxed upstream
// credential. Both values are opaque.
type Identity struct {
	// ClientID is the stable identity of the messaging user.
	ClientID string

	// AccessToken is the upstream credential for this request.
	AccessToken string
}

// Conversation is an upstream conversation handle.
type Conversation struct {
	// ID is the opaque upstream conversation identifier.
	ID string

	// CreatedAt is when the upstream created the conversation (zero if
	// unknown).
	CreatedAt time.Time
}

// ChatRequest is one user turn sent to the upstream.
type ChatRequest struct {
	Identity Identity

	// ConversationID is the conversation handle that carries the history.
	ConversationID string

	// Message is the user's text.
	Message string
}

// EventKind discriminates upstream events. Only the kind matters to the
// relay; vendor field names stay inside the client implementation.
type EventKind string

const (
	// EventDelta carries an incremental piece of a message.
	EventDelta EventKind = "delta"

	// EventCompleted carries a complete message (answer, follow-up or
	// verbose/tool output).
	EventCompleted EventKind = "completed"

	// EventSessionCompleted signals that the upstream finished the turn.
	EventSessionCompleted EventKind = "session-completed"

	// EventTerminal is the last event of the stream.
	EventTerminal EventKind = "terminal"

	// EventError reports an upstream failure inside the stream.
	EventError EventKind = "error"
)

// MessageType classifies the message an event belongs to.
type MessageType string

const (
	// MessageAnswer is the assistant's answer text.
	MessageAnswer MessageType = "answer"

	// MessageFollowUp is one suggested next question.
	MessageFollowUp MessageType = "follow_up"

	// MessageVerbose is progress or diagnostic output.
	MessageVerbose MessageType = "verbose"

	// MessageToolCall is a tool invocation by the assistant.
	MessageToolCall MessageType = "function_call"

	// MessageToolResponse is the output of a tool invocation.
	MessageToolResponse MessageType = "tool_response"
)

// Event is one decoded upstream event.
type Event struct {
	Kind        EventKind
	MessageType MessageType

	// MessageID identifies the upstream message, for later feedback
	// correlation.
	MessageID string

	// ConversationID echoes the conversation the event belongs to.
	ConversationID string

	// Content is the delta text (EventDelta) or the full message text
	// (EventCompleted).
	Content string

	// ErrorCode and ErrorMessage are set for EventError.
	ErrorCode    int
	ErrorMessage string
}

// EventStream is a pull-style iterator over upstream events.
//
// Next returns io.EOF once the stream ended. A *ParseError reports a single
// malformed event; the stream stays usable and the next call continues with
// the following event. Close may be called concurrently with Next to abort a
// blocked read.
type EventStream interface {
	Next(ctx context.Context) (*Event, error)
	Close() error
}
