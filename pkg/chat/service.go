package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/switchboard/pkg/admission"
	"mercator-hq/switchboard/pkg/conversation"
	"mercator-hq/switchboard/pkg/followup"
	"mercator-hq/switchboard/pkg/relay"
	"mercator-hq/switchboard/pkg/resilience"
	"mercator-hq/switchboard/pkg/telemetry/logging"
	"mercator-hq/switchboard/pkg/telemetry/tracing"
	"mercator-hq/switchboard/pkg/upstream"
)

// Request is one chat turn.
type Request struct {
	Identity  upstream.Identity
	RequestID string
	Priority  admission.Priority
	Message   string
}

// Deps are the collaborators of a Service.
type Deps struct {
	Admission     *admission.Controller
	Conversations *conversation.Cache
	Guard         *resilience.Guard
	Client        upstream.Client
	Relay         *relay.Relay
	FollowUps     *followup.Reconciler
	Session       relay.Settings

	// SessionMetrics receives per-session observations. Optional.
	SessionMetrics relay.Metrics
	Tracer         *tracing.Tracer
	Logger         *slog.Logger
}

// Service runs chat turns: admission, conversation resolution, the
// upstream stream and the relay to the client.
type Service struct {
	deps   Deps
	logger *slog.Logger
	tracer *tracing.Tracer
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.Noop()
	}
	return &Service{
		deps:   deps,
		logger: logger.With("component", "chat"),
		tracer: tracer,
	}
}

// Stream runs one turn and relays it to transport.
//
// A returned *Error means nothing was written to transport. Once the
// session is open every failure is reported in-band as an error frame and
// Stream returns nil.
func (s *Service) Stream(ctx context.Context, req Request, transport relay.Transport) error {
	if strings.TrimSpace(req.Message) == "" {
		return &Error{Kind: KindInvalidRequest, Message: "message is required"}
	}
	if req.Identity.ClientID == "" {
		return &Error{Kind: KindInvalidRequest, Message: "client identity is required"}
	}
	if req.Priority == "" {
		req.Priority = admission.PriorityNormal
	}

	ctx, span := s.tracer.Start(ctx, "chat.turn", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	tracing.SetTurnAttributes(span, req.RequestID, req.Identity.ClientID, string(req.Priority))

	logger := s.logger.With("request_id", req.RequestID, "client_id", req.Identity.ClientID)
	start := time.Now()

	slot, err := s.deps.Admission.Acquire(ctx, admission.Options{
		RequestID: req.RequestID,
		Priority:  req.Priority,
	})
	if err != nil {
		tracing.SetError(span, err)
		return admissionError(err)
	}
	defer slot.Release()
	if wait := slot.Wait(); wait > 0 {
		tracing.AddEvent(span, "admitted after queueing")
		logger.DebugContext(ctx, "request admitted after queueing", "wait", wait)
	}

	handle, stream, err := s.open(ctx, req)
	if err != nil {
		tracing.SetError(span, err)
		logger.WarnContext(ctx, "chat turn failed before streaming", "error", err)
		return err
	}
	span.SetAttributes(tracing.AttrConversationID.String(handle.ID))
	ctx = logging.WithConversationID(ctx, handle.ID)

	sessionID := uuid.NewString()
	span.SetAttributes(tracing.AttrSessionID.String(sessionID))
	ctx = logging.WithSessionID(ctx, sessionID)

	opts := []relay.SessionOption{relay.WithSessionLogger(s.logger)}
	if s.deps.SessionMetrics != nil {
		opts = append(opts, relay.WithSessionMetrics(s.deps.SessionMetrics))
	}
	session := relay.NewSession(sessionID, transport, s.deps.Session, opts...)
	defer session.Close()

	if err := session.Open(relay.ConnectedData{ConversationID: handle.ID}); err != nil {
		stream.Close()
		logger.InfoContext(ctx, "client left before the stream opened", "error", err)
		return nil
	}

	out, err := s.deps.Relay.Run(ctx, stream, session)
	conversationID := out.ConversationID
	if conversationID == "" {
		conversationID = handle.ID
	}

	switch {
	case out.Disconnected:
		span.SetAttributes(tracing.AttrTerminalOutcome.String(relay.OutcomeDisconnected))
		logger.InfoContext(ctx, "client disconnected during turn",
			"completed", out.Completed,
			"answer_bytes", len(out.Answer),
			"duration", time.Since(start),
		)
		if out.Completed {
			// The turn finished upstream, so its side-channel variables are
			// read and cleared now or the next turn would serve them.
			s.deps.FollowUps.Reconcile(context.WithoutCancel(ctx), req.Identity, out.FollowUps)
		}
		return nil

	case err != nil:
		code, message := frameError(err)
		tracing.SetError(span, err)
		span.SetAttributes(tracing.AttrTerminalOutcome.String(relay.OutcomeFailed))
		logger.WarnContext(ctx, "chat stream failed", "error", err, "code", code)
		if ferr := session.Fail(code, message); ferr != nil {
			logger.DebugContext(ctx, "error frame not delivered", "error", ferr)
		}
		return nil
	}

	followUps := s.deps.FollowUps.Reconcile(ctx, req.Identity, out.FollowUps)
	span.SetAttributes(
		tracing.AttrAnswerBytes.Int(len(out.Answer)),
		tracing.AttrFollowUpSource.String(followUps.Source),
		tracing.AttrFollowUpCount.Int(len(followUps.Questions)),
		tracing.AttrTerminalOutcome.String(relay.OutcomeCompleted),
	)

	if err := session.Finish(relay.FinalData{
		Answer:         out.Answer,
		ConversationID: conversationID,
		MessageID:      out.MessageID,
		FollowUps:      followUps.Questions,
		FollowUpSource: followUps.Source,
	}); err != nil {
		logger.DebugContext(ctx, "final frame not delivered", "error", err)
	}

	logger.InfoContext(ctx, "chat turn completed",
		"conversation_id", conversationID,
		"answer_bytes", len(out.Answer),
		"deltas", out.Deltas,
		"follow_up_source", followUps.Source,
		"duration", time.Since(start),
	)
	return nil
}

// open resolves the client's conversation and opens the upstream stream.
// A conversation the upstream no longer knows is forgotten and resolved
// again once.
func (s *Service) open(ctx context.Context, req Request) (conversation.Handle, upstream.EventStream, error) {
	for attempt := 0; ; attempt++ {
		handle, err := s.deps.Conversations.Resolve(ctx, req.Identity)
		if err != nil {
			return conversation.Handle{}, nil, upstreamError("conversation resolution", err)
		}

		stream, err := resilience.Do(ctx, s.deps.Guard, resilience.ClassOpenStream,
			func(ctx context.Context) (upstream.EventStream, error) {
				// The relay owns the stream once open and keeps reading it
				// after a client disconnect, so it must outlive ctx.
				return s.deps.Client.OpenChatStream(context.WithoutCancel(ctx), upstream.ChatRequest{
					Identity:       req.Identity,
					ConversationID: handle.ID,
					Message:        req.Message,
				})
			})
		if err == nil {
			return handle, stream, nil
		}

		if attempt == 0 && staleConversation(err) {
			s.logger.InfoContext(ctx, "upstream does not know the conversation, resolving again",
				"client_id", req.Identity.ClientID,
				"conversation_id", handle.ID,
			)
			if _, ierr := s.deps.Conversations.Invalidate(ctx, req.Identity.ClientID); ierr != nil {
				s.logger.WarnContext(ctx, "failed to invalidate conversation", "error", ierr)
			}
			continue
		}
		return conversation.Handle{}, nil, upstreamError("opening the answer stream", err)
	}
}

func staleConversation(err error) bool {
	var pe *upstream.ProviderError
	return errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound
}
