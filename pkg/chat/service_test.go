package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/switchboard/internal/upstreamtest"
	"mercator-hq/switchboard/pkg/admission"
	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/conversation"
	"mercator-hq/switchboard/pkg/followup"
	"mercator-hq/switchboard/pkg/relay"
	"mercator-hq/switchboard/pkg/resilience"
	"mercator-hq/switchboard/pkg/upstream"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sink is a Transport that keeps everything written to it.
type sink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed int
}

func (s *sink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	return nil
}

func (s *sink) Flush() error { return nil }

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type frame struct {
	kind string
	data map[string]any
}

func (s *sink) frames(t *testing.T) []frame {
	t.Helper()
	s.mu.Lock()
	raw := s.buf.String()
	s.mu.Unlock()

	var out []frame
	var current frame
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data); err != nil {
				t.Fatalf("bad frame data %q: %v", line, err)
			}
		case line == "":
			if current.kind != "" {
				out = append(out, current)
			}
			current = frame{}
		}
	}
	return out
}

func (s *sink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func lastFrame(t *testing.T, frames []frame) frame {
	t.Helper()
	if len(frames) == 0 {
		t.Fatal("no frames written")
	}
	return frames[len(frames)-1]
}

type fixture struct {
	server    *upstreamtest.MockServer
	service   *Service
	admission *admission.Controller
	cache     *conversation.Cache
}

func newFixture(t *testing.T, followUps config.FollowUpConfig) *fixture {
	t.Helper()
	server := upstreamtest.NewMockServer()
	t.Cleanup(server.Close)

	client, err := upstream.NewHTTPClient(config.UpstreamConfig{
		Name:                 "coze",
		BaseURL:              server.URL(),
		BotID:                "bot-1",
		Timeout:              time.Second,
		StreamConnectTimeout: time.Second,
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	guard := resilience.NewGuard(
		resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		resilience.BreakerSettings{FailureThreshold: 10, ResetTimeout: time.Minute, SuccessThreshold: 1},
		resilience.WithLogger(quietLogger()),
	)
	controller := admission.NewController(admission.Limits{MaxConcurrent: 4, QueueTimeout: time.Second},
		admission.WithLogger(quietLogger()))
	t.Cleanup(controller.Close)

	cache := conversation.NewCache(client, guard,
		conversation.WithStore(conversation.NewMemoryStore()),
		conversation.WithLogger(quietLogger()))

	svc := NewService(Deps{
		Admission:     controller,
		Conversations: cache,
		Guard:         guard,
		Client:        client,
		Relay:         relay.New(relay.WithLogger(quietLogger()), relay.WithDisconnectGrace(100*time.Millisecond)),
		FollowUps:     followup.NewReconciler(client, guard, followUps, followup.WithLogger(quietLogger())),
		Session:       relay.Settings{FlushInterval: 10 * time.Millisecond, FlushThreshold: 1},
		Logger:        quietLogger(),
	})
	return &fixture{server: server, service: svc, admission: controller, cache: cache}
}

func request(message string) Request {
	return Request{
		Identity:  upstream.Identity{ClientID: "user-1", AccessToken: "tok"},
		RequestID: "req-1",
		Message:   message,
	}
}

func answerStream(events ...upstreamtest.MockEvent) upstreamtest.MockResponse {
	return upstreamtest.MockResponse{Events: events}
}

func TestStream_CompletedTurn(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody()})
	f.server.SetResponse("/v1/conversation/create", upstreamtest.MockResponse{Body: upstreamtest.ConversationBody("conv-new")})
	f.server.SetResponse("/v3/chat", answerStream(
		upstreamtest.DeltaEvent("Hel"),
		upstreamtest.DeltaEvent("lo"),
		upstreamtest.AnswerEvent("Hello"),
		upstreamtest.FollowUpEvent("What else?"),
		upstreamtest.ChatCompletedEvent(),
		upstreamtest.DoneEvent(),
	))

	sink := &sink{}
	if err := f.service.Stream(context.Background(), request("hi"), sink); err != nil {
		t.Fatal(err)
	}

	frames := sink.frames(t)
	if frames[0].kind != string(relay.KindConnected) {
		t.Fatalf("first frame = %s", frames[0].kind)
	}
	if frames[0].data["conversation_id"] != "conv-new" {
		t.Errorf("connected conversation = %v", frames[0].data["conversation_id"])
	}

	final := lastFrame(t, frames)
	if final.kind != string(relay.KindFinal) {
		t.Fatalf("last frame = %s", final.kind)
	}
	if final.data["answer"] != "Hello" {
		t.Errorf("answer = %v", final.data["answer"])
	}
	if final.data["follow_up_source"] != followup.SourceStream {
		t.Errorf("follow-up source = %v", final.data["follow_up_source"])
	}
	if qs, _ := final.data["follow_ups"].([]any); len(qs) != 1 || qs[0] != "What else?" {
		t.Errorf("follow-ups = %v", final.data["follow_ups"])
	}
	if sink.closed != 1 {
		t.Errorf("transport closed %d times", sink.closed)
	}
	if n := f.admission.InFlight(); n != 0 {
		t.Errorf("slot not released, in flight = %d", n)
	}
}

func TestStream_OpenRetriedOnUnavailable(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody("conv-old")})
	f.server.SetResponses("/v3/chat",
		upstreamtest.MockResponse{StatusCode: 503, Body: upstreamtest.ErrorBody(503, "busy")},
		upstreamtest.MockResponse{StatusCode: 503, Body: upstreamtest.ErrorBody(503, "busy")},
		answerStream(
			upstreamtest.DeltaEvent("ok"),
			upstreamtest.ChatCompletedEvent(),
			upstreamtest.DoneEvent(),
		),
	)

	sink := &sink{}
	if err := f.service.Stream(context.Background(), request("hi"), sink); err != nil {
		t.Fatal(err)
	}
	if n := f.server.RequestCount("/v3/chat"); n != 3 {
		t.Errorf("chat attempts = %d, want 3", n)
	}
	final := lastFrame(t, sink.frames(t))
	if final.kind != string(relay.KindFinal) || final.data["answer"] != "ok" {
		t.Errorf("unexpected terminal frame %+v", final)
	}
	if f.server.RequestCount("/v1/conversation/create") != 0 {
		t.Error("recent conversation should have been adopted")
	}
}

func TestStream_InvalidRequestWritesNothing(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})

	tests := []struct {
		name string
		req  Request
	}{
		{"empty message", request("   ")},
		{"no client", Request{Message: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &sink{}
			err := f.service.Stream(context.Background(), tt.req, sink)
			var chatErr *Error
			if !errors.As(err, &chatErr) || chatErr.Kind != KindInvalidRequest {
				t.Fatalf("err = %v", err)
			}
			if sink.written() != 0 {
				t.Error("nothing should be written for an invalid request")
			}
		})
	}
	if f.server.GetRequestCount() != 0 {
		t.Error("upstream must not be called")
	}
}

func TestStream_UnauthorizedBeforeStreaming(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody("conv-1")})
	f.server.SetResponse("/v3/chat", upstreamtest.MockResponse{StatusCode: 401, Body: upstreamtest.ErrorBody(401, "bad token")})

	sink := &sink{}
	err := f.service.Stream(context.Background(), request("hi"), sink)
	var chatErr *Error
	if !errors.As(err, &chatErr) || chatErr.Kind != KindUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if n := f.server.RequestCount("/v3/chat"); n != 1 {
		t.Errorf("auth failures are not retried, got %d attempts", n)
	}
	if sink.written() != 0 {
		t.Error("nothing should be written before the session opens")
	}
	if n := f.admission.InFlight(); n != 0 {
		t.Errorf("slot not released, in flight = %d", n)
	}
}

func TestStream_UpstreamFailureIsErrorFrame(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody("conv-1")})
	f.server.SetResponse("/v3/chat", answerStream(
		upstreamtest.DeltaEvent("partial"),
		upstreamtest.ChatFailedEvent(4011, "content blocked"),
		upstreamtest.DoneEvent(),
	))

	sink := &sink{}
	if err := f.service.Stream(context.Background(), request("hi"), sink); err != nil {
		t.Fatal(err)
	}
	frames := sink.frames(t)
	terminal := lastFrame(t, frames)
	if terminal.kind != string(relay.KindError) {
		t.Fatalf("last frame = %s", terminal.kind)
	}
	if terminal.data["code"] != "upstream_stream_error" {
		t.Errorf("code = %v", terminal.data["code"])
	}
	finals := 0
	for _, fr := range frames {
		if fr.kind == string(relay.KindFinal) {
			finals++
		}
	}
	if finals != 0 {
		t.Error("a failed turn must not send a final frame")
	}
}

func TestStream_IncompleteStream(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody("conv-1")})
	f.server.SetResponse("/v3/chat", answerStream(upstreamtest.DeltaEvent("cut")))

	sink := &sink{}
	if err := f.service.Stream(context.Background(), request("hi"), sink); err != nil {
		t.Fatal(err)
	}
	terminal := lastFrame(t, sink.frames(t))
	if terminal.kind != string(relay.KindError) || terminal.data["code"] != "incomplete_stream" {
		t.Errorf("terminal = %+v", terminal)
	}
}

func TestStream_StaleConversationResolvedAgain(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody()})
	f.server.SetResponses("/v1/conversation/create",
		upstreamtest.MockResponse{Body: upstreamtest.ConversationBody("conv-old")},
		upstreamtest.MockResponse{Body: upstreamtest.ConversationBody("conv-fresh")},
	)
	f.server.SetResponses("/v3/chat",
		upstreamtest.MockResponse{StatusCode: 404, Body: upstreamtest.ErrorBody(404, "conversation not found")},
		answerStream(upstreamtest.AnswerEvent("hi again"), upstreamtest.ChatCompletedEvent(), upstreamtest.DoneEvent()),
	)

	sink := &sink{}
	if err := f.service.Stream(context.Background(), request("hi"), sink); err != nil {
		t.Fatal(err)
	}
	frames := sink.frames(t)
	if frames[0].data["conversation_id"] != "conv-fresh" {
		t.Errorf("connected conversation = %v", frames[0].data["conversation_id"])
	}
	entry, ok := f.cache.Get("user-1")
	if !ok || entry.ConversationID != "conv-fresh" {
		t.Errorf("cache entry = %+v, %v", entry, ok)
	}
	if n := f.server.RequestCount("/v3/chat"); n != 2 {
		t.Errorf("chat attempts = %d, want 2", n)
	}
}

func TestStream_SideChannelFollowUps(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{
		Enabled:      true,
		Variables:    []string{"follow_up_questions"},
		Timeout:      time.Second,
		MaxQuestions: 3,
	})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody("conv-1")})
	f.server.SetResponse("/v3/chat", answerStream(upstreamtest.AnswerEvent("answer"), upstreamtest.ChatCompletedEvent(), upstreamtest.DoneEvent()))
	f.server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{
		Body: upstreamtest.VariablesBody(map[string]string{"follow_up_questions": "1. Why?\n2. How?"}),
	})
	f.server.SetResponse("PUT /v1/variables", upstreamtest.MockResponse{Body: upstreamtest.OKBody()})

	sink := &sink{}
	if err := f.service.Stream(context.Background(), request("hi"), sink); err != nil {
		t.Fatal(err)
	}
	final := lastFrame(t, sink.frames(t))
	if final.data["follow_up_source"] != followup.SourceSideChannel {
		t.Errorf("source = %v", final.data["follow_up_source"])
	}
	if qs, _ := final.data["follow_ups"].([]any); len(qs) != 2 {
		t.Errorf("follow-ups = %v", final.data["follow_ups"])
	}
}

func TestStream_DisconnectedTurnStillClearsSideChannel(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{
		Enabled:      true,
		Variables:    []string{"follow_up_questions"},
		Timeout:      time.Second,
		MaxQuestions: 3,
	})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody("conv-1")})
	f.server.SetResponse("/v3/chat", upstreamtest.MockResponse{
		EventDelay: 10 * time.Millisecond,
		Events: []upstreamtest.MockEvent{
			upstreamtest.DeltaEvent("par"),
			upstreamtest.DeltaEvent("tial"),
			upstreamtest.AnswerEvent("partial"),
			upstreamtest.ChatCompletedEvent(),
			upstreamtest.DoneEvent(),
		},
	})
	f.server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{
		Body: upstreamtest.VariablesBody(map[string]string{"follow_up_questions": "1. Stale?"}),
	})
	f.server.SetResponse("PUT /v1/variables", upstreamtest.MockResponse{Body: upstreamtest.OKBody()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &sink{}
	done := make(chan error, 1)
	go func() { done <- f.service.Stream(ctx, request("hi"), sink) }()

	deadline := time.Now().Add(2 * time.Second)
	for sink.written() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stream did not return after the client left")
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := f.service.deps.FollowUps.Wait(waitCtx); err != nil {
		t.Fatal(err)
	}
	if n := f.server.RequestCount("GET /v1/variables"); n != 1 {
		t.Errorf("side channel reads = %d, want 1", n)
	}
	if n := f.server.RequestCount("PUT /v1/variables"); n != 1 {
		t.Errorf("side channel clears = %d, want 1", n)
	}
	for _, fr := range sink.frames(t) {
		if fr.kind == string(relay.KindFinal) {
			t.Error("no final frame may be written after the client left")
		}
	}
}

func TestStream_QueuedUntilCapacity(t *testing.T) {
	f := newFixture(t, config.FollowUpConfig{})
	f.server.SetResponse("GET /v1/conversations", upstreamtest.MockResponse{Body: upstreamtest.ConversationListBody("conv-1")})
	f.server.SetResponse("/v3/chat", answerStream(upstreamtest.AnswerEvent("done"), upstreamtest.ChatCompletedEvent(), upstreamtest.DoneEvent()))

	slots := make([]*admission.Slot, 0, 4)
	for i := 0; i < 4; i++ {
		slot, err := f.admission.Acquire(context.Background(), admission.Options{})
		if err != nil {
			t.Fatal(err)
		}
		slots = append(slots, slot)
	}

	sink := &sink{}
	done := make(chan error, 1)
	go func() { done <- f.service.Stream(context.Background(), request("hi"), sink) }()

	select {
	case err := <-done:
		t.Fatalf("turn ran while at capacity: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	slots[0].Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued turn never ran")
	}
	for _, s := range slots[1:] {
		s.Release()
	}
	if final := lastFrame(t, sink.frames(t)); final.kind != string(relay.KindFinal) {
		t.Errorf("last frame = %s", final.kind)
	}
}

func TestUpstreamErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"cancelled", context.Canceled, KindCancelled},
		{"circuit open", &resilience.CircuitOpenError{Class: resilience.ClassOpenStream, RetryIn: time.Second}, KindUpstreamUnavailable},
		{"auth", &upstream.AuthError{StatusCode: 401}, KindUnauthorized},
		{"rate limited", &upstream.RateLimitError{RetryAfter: 2 * time.Second}, KindRateLimited},
		{"other", &upstream.ProviderError{StatusCode: 500}, KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := upstreamError("op", tt.err); got.Kind != tt.want {
				t.Errorf("kind = %s, want %s", got.Kind, tt.want)
			}
		})
	}
}

func TestAdmissionErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{admission.ErrCapacityExceeded, KindCapacityExceeded},
		{admission.ErrQueueTimeout, KindQueueTimeout},
		{admission.ErrClosed, KindShuttingDown},
		{context.Canceled, KindCancelled},
	}
	for _, tt := range tests {
		if got := admissionError(tt.err); got.Kind != tt.want {
			t.Errorf("admissionError(%v) = %s, want %s", tt.err, got.Kind, tt.want)
		}
	}
}
