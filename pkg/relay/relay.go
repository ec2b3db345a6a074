package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/upstream"
)

// ErrIncompleteStream is returned when the upstream stream ended before the
// answer was completed.
var ErrIncompleteStream = errors.New("upstream stream ended before completion")

// Outcome is what the relay observed on one upstream stream.
type Outcome struct {
	// Answer is the shaped final answer.
	Answer string

	ConversationID string
	MessageID      string

	// FollowUps are the suggested questions embedded in the stream.
	FollowUps []string

	// Completed is set once the answer or the whole chat was reported
	// complete.
	Completed bool

	// Disconnected is set when the client left before the stream ended.
	Disconnected bool

	Deltas  int
	Skipped int
}

// Relay turns upstream events into session frames.
type Relay struct {
	shaper          *Shaper
	trustRestated   bool
	disconnectGrace time.Duration
	logger          *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithShaper sets the answer shaper.
func WithShaper(s *Shaper) Option {
	return func(r *Relay) { r.shaper = s }
}

// WithTrustRestatedAnswer makes the completed answer event authoritative even
// when it is shorter than the accumulated deltas.
func WithTrustRestatedAnswer(trust bool) Option {
	return func(r *Relay) { r.trustRestated = trust }
}

// WithDisconnectGrace sets how long upstream events keep being consumed
// after the client left.
func WithDisconnectGrace(d time.Duration) Option {
	return func(r *Relay) { r.disconnectGrace = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// New creates a Relay.
func New(opts ...Option) *Relay {
	r := &Relay{
		disconnectGrace: config.DefaultRelayDisconnectGrace,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "relay")
	return r
}

// FromConfig creates a Relay from configuration.
func FromConfig(cfg config.RelayConfig, logger *slog.Logger) (*Relay, error) {
	shaper, err := NewShaper(cfg.BoilerplatePatterns)
	if err != nil {
		return nil, err
	}
	return New(
		WithShaper(shaper),
		WithTrustRestatedAnswer(cfg.TrustRestatedAnswer),
		WithDisconnectGrace(cfg.DisconnectGrace),
		WithLogger(logger),
	), nil
}

type next struct {
	ev  *upstream.Event
	err error
}

// Run consumes stream until it ends and forwards answer progress to s. It
// does not send the terminal frame. The stream is closed before Run returns.
//
// When ctx is cancelled (the client left) events keep being consumed for
// the disconnect grace so a completion can still be observed, without
// writing frames.
func (r *Relay) Run(ctx context.Context, stream upstream.EventStream, s *Session) (Outcome, error) {
	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	defer stream.Close()

	events := make(chan next)
	go func() {
		defer close(events)
		for {
			ev, err := stream.Next(readCtx)
			select {
			case events <- next{ev: ev, err: err}:
			case <-readCtx.Done():
				return
			}
			if err != nil && !upstream.IsParseError(err) {
				return
			}
		}
	}()

	var (
		out        Outcome
		acc        Accumulator
		lastSent   string
		restated   *string
		graceC     <-chan time.Time
		graceTimer *time.Timer
		clientC    = ctx.Done()
		goneC      = s.Gone()
	)

	disconnect := func(reason error) {
		if out.Disconnected {
			return
		}
		out.Disconnected = true
		clientC, goneC = nil, nil
		s.Disconnect(reason)
		r.logger.InfoContext(ctx, "client disconnected, draining upstream", "session_id", s.ID(), "grace", r.disconnectGrace)
		graceTimer = time.NewTimer(r.disconnectGrace)
		graceC = graceTimer.C
	}
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	finish := func(err error) (Outcome, error) {
		out.Answer = r.finalAnswer(acc.String(), restated, lastSent)
		return out, err
	}

	for {
		var item next
		var ok bool
		select {
		case item, ok = <-events:
		case <-clientC:
			disconnect(ctx.Err())
			continue
		case <-goneC:
			disconnect(context.Canceled)
			continue
		case <-graceC:
			r.logger.InfoContext(ctx, "disconnect grace elapsed, stopping upstream read", "session_id", s.ID(), "completed", out.Completed)
			return finish(ctx.Err())
		}
		if !ok {
			return finish(ErrIncompleteStream)
		}

		if item.err != nil {
			if upstream.IsParseError(item.err) {
				out.Skipped++
				r.logger.WarnContext(ctx, "skipping malformed upstream event", "session_id", s.ID(), "error", item.err)
				continue
			}
			if errors.Is(item.err, io.EOF) {
				if out.Completed {
					return finish(nil)
				}
				return finish(ErrIncompleteStream)
			}
			return finish(fmt.Errorf("upstream stream read failed: %w", item.err))
		}

		ev := item.ev
		if ev.ConversationID != "" {
			out.ConversationID = ev.ConversationID
		}

		switch ev.Kind {
		case upstream.EventDelta:
			if !isAnswer(ev.MessageType) {
				continue
			}
			acc.Append(ev.Content)
			out.Deltas++
			if out.Disconnected {
				continue
			}
			shaped := r.shaper.Shape(acc.String())
			if len(shaped) <= len(lastSent) {
				continue
			}
			lastSent = shaped
			if err := s.Send(Frame{Kind: KindDelta, Data: DeltaData{Content: shaped}}); err != nil {
				r.logger.DebugContext(ctx, "delta not sent", "session_id", s.ID(), "error", err)
			}

		case upstream.EventCompleted:
			switch ev.MessageType {
			case upstream.MessageAnswer, "":
				content := ev.Content
				restated = &content
				out.MessageID = ev.MessageID
				out.Completed = true
			case upstream.MessageFollowUp:
				if ev.Content != "" {
					out.FollowUps = append(out.FollowUps, ev.Content)
				}
			case upstream.MessageVerbose, upstream.MessageToolCall, upstream.MessageToolResponse:
				if !out.Disconnected {
					if err := s.Send(Frame{Kind: KindProcessing, Data: ProcessingData{Stage: string(ev.MessageType)}}); err != nil {
						r.logger.DebugContext(ctx, "processing frame not sent", "session_id", s.ID(), "error", err)
					}
				}
			}

		case upstream.EventSessionCompleted:
			out.Completed = true

		case upstream.EventTerminal:
			if out.Completed {
				return finish(nil)
			}
			return finish(ErrIncompleteStream)

		case upstream.EventError:
			return finish(&upstream.StreamError{Code: ev.ErrorCode, Message: ev.ErrorMessage})
		}
	}
}

// finalAnswer picks the answer text. Both candidates are shaped first; the
// restated answer wins when its shaped text is at least as long as the
// shaped deltas. The result is never shorter than the last delta sent,
// unless the restated answer is trusted.
func (r *Relay) finalAnswer(accumulated string, restated *string, lastSent string) string {
	answer := r.shaper.Shape(accumulated)
	if restated != nil {
		shaped := r.shaper.Shape(*restated)
		if r.trustRestated && shaped != "" {
			return shaped
		}
		if len(shaped) >= len(answer) {
			answer = shaped
		}
	}
	if len(answer) < len(lastSent) {
		answer = lastSent
	}
	return answer
}

func isAnswer(t upstream.MessageType) bool {
	return t == "" || t == upstream.MessageAnswer
}
