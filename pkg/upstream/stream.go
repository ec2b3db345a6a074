package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Upstream SSE event names.
const (
	sseMessageDelta     = "conversation.message.delta"
	sseMessageCompleted = "conversation.message.completed"
	sseChatCompleted    = "conversation.chat.completed"
	sseChatFailed       = "conversation.chat.failed"
	sseDone             = "done"
	sseError            = "error"
)

// eventStream reads Server-Sent Events from a chat response body.
type eventStream struct {
	provider string
	body     io.ReadCloser
	scanner  *bufio.Scanner
	cancel   context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	done      bool
}

func newEventStream(provider string, body io.ReadCloser, cancel context.CancelFunc) *eventStream {
	return &eventStream{
		provider: provider,
		body:     body,
		scanner:  newScanner(body),
		cancel:   cancel,
	}
}

// Next returns the next relevant event. Events the relay has no use for
// (chat created, in progress, ...) are skipped.
func (s *eventStream) Next(ctx context.Context) (*Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.isFinished() {
			return nil, io.EOF
		}

		name, data, err := s.readEvent()
		if err != nil {
			if err == io.EOF {
				s.markDone()
				return nil, io.EOF
			}
			if s.isClosed() {
				return nil, io.EOF
			}
			return nil, &StreamError{Provider: s.provider, Message: "failed to read stream", Cause: err}
		}

		event, err := s.decode(name, data)
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		if event.Kind == EventTerminal {
			s.markDone()
		}
		return event, nil
	}
}

// readEvent reads one SSE event: its name and joined data lines.
func (s *eventStream) readEvent() (string, string, error) {
	var eventType string
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if eventType != "" || len(dataLines) > 0 {
				return eventType, strings.Join(dataLines, "\n"), nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// id, retry and comment lines are ignored
	}

	if err := s.scanner.Err(); err != nil {
		return "", "", err
	}

	// A final event without a trailing blank line still counts.
	if eventType != "" || len(dataLines) > 0 {
		return eventType, strings.Join(dataLines, "\n"), nil
	}
	return "", "", io.EOF
}

// decode maps a vendor event onto an Event. It returns nil for events that
// carry nothing the relay uses.
func (s *eventStream) decode(name, data string) (*Event, error) {
	switch name {
	case sseDone:
		return &Event{Kind: EventTerminal}, nil
	case sseMessageDelta, sseMessageCompleted, sseChatCompleted, sseChatFailed, sseError:
	default:
		return nil, nil
	}

	if !gjson.Valid(data) {
		return nil, &ParseError{
			Provider:    s.provider,
			RawResponse: truncate(data),
			Cause:       fmt.Errorf("invalid JSON in %q event", name),
		}
	}
	payload := gjson.Parse(data)

	switch name {
	case sseMessageDelta, sseMessageCompleted:
		kind := EventDelta
		if name == sseMessageCompleted {
			kind = EventCompleted
		}
		return &Event{
			Kind:           kind,
			MessageType:    MessageType(payload.Get("type").String()),
			MessageID:      payload.Get("id").String(),
			ConversationID: payload.Get("conversation_id").String(),
			Content:        payload.Get("content").String(),
		}, nil

	case sseChatCompleted:
		return &Event{
			Kind:           EventSessionCompleted,
			ConversationID: payload.Get("conversation_id").String(),
		}, nil

	case sseChatFailed:
		return &Event{
			Kind:           EventError,
			ConversationID: payload.Get("conversation_id").String(),
			ErrorCode:      int(payload.Get("last_error.code").Int()),
			ErrorMessage:   payload.Get("last_error.msg").String(),
		}, nil

	default: // sseError
		return &Event{
			Kind:         EventError,
			ErrorCode:    int(payload.Get("code").Int()),
			ErrorMessage: payload.Get("msg").String(),
		}, nil
	}
}

// Close closes the response body, unblocking a pending Next.
func (s *eventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *eventStream) markDone() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *eventStream) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done || s.closed
}

func (s *eventStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
