package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FrameKind is the SSE event name of an outbound frame.
type FrameKind string

const (
	KindConnected  FrameKind = "connected"
	KindDelta      FrameKind = "delta"
	KindFinal      FrameKind = "final"
	KindHeartbeat  FrameKind = "heartbeat"
	KindProcessing FrameKind = "processing"
	KindError      FrameKind = "error"
)

// Terminal reports whether the kind ends a session.
func (k FrameKind) Terminal() bool {
	return k == KindFinal || k == KindError
}

// Frame is one outbound event.
type Frame struct {
	Kind FrameKind
	Data any
}

// ConnectedData is the payload of the connected frame.
type ConnectedData struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Timestamp      int64  `json:"timestamp"`
}

// DeltaData carries the cumulative answer text so far.
type DeltaData struct {
	Content string `json:"content"`
}

// ProcessingData tells the client the upstream is working on something that
// is not answer text.
type ProcessingData struct {
	Stage string `json:"stage"`
}

// HeartbeatData is the payload of the heartbeat frame.
type HeartbeatData struct {
	Timestamp int64 `json:"timestamp"`
}

// FinalData is the payload of the successful terminal frame.
type FinalData struct {
	Answer         string   `json:"answer"`
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id,omitempty"`
	FollowUps      []string `json:"follow_ups"`
	FollowUpSource string   `json:"follow_up_source"`
}

// ErrorData is the payload of the failed terminal frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode renders the frame as an SSE event:
//
//	event: <kind>
//	data: <json>
//
// followed by a blank line.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", f.Kind, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(f.Kind) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(string(f.Kind))
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// Transport is the client side of a session. Writes are buffered by the
// transport until Flush. Close is called exactly once by the session.
type Transport interface {
	Write(p []byte) error
	Flush() error
	Close() error
}
