package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/switchboard/pkg/chat"
	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/conversation"
	"mercator-hq/switchboard/pkg/proxy/middleware"
	"mercator-hq/switchboard/pkg/relay"
	"mercator-hq/switchboard/pkg/telemetry/health"
	"mercator-hq/switchboard/pkg/telemetry/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStreamer struct {
	mu  sync.Mutex
	got chat.Request
}

func (f *fakeStreamer) Stream(_ context.Context, req chat.Request, tr relay.Transport) error {
	f.mu.Lock()
	f.got = req
	f.mu.Unlock()

	b, err := relay.Frame{Kind: relay.KindHeartbeat}.Encode()
	if err != nil {
		return err
	}
	if err := tr.Write(b); err != nil {
		return err
	}
	if err := tr.Flush(); err != nil {
		return err
	}
	return tr.Close()
}

type fakeConversations struct{}

func (fakeConversations) Get(clientID string) (conversation.Entry, bool) {
	if clientID != "user-1" {
		return conversation.Entry{}, false
	}
	return conversation.Entry{ClientID: clientID, ConversationID: "conv-1"}, true
}

func (fakeConversations) Invalidate(context.Context, string) (bool, error) { return true, nil }

type fakeAdmission struct{ closed atomic.Bool }

func (f *fakeAdmission) Close() { f.closed.Store(true) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestServer(t *testing.T, deps Deps) (*Server, *fakeStreamer) {
	t.Helper()
	streamer := &fakeStreamer{}
	if deps.Streamer == nil {
		deps.Streamer = streamer
	}
	if deps.Conversations == nil {
		deps.Conversations = fakeConversations{}
	}
	deps.Logger = quietLogger()
	deps.Version = "1.2.3"
	return NewServer(testConfig(), deps), streamer
}

func TestHandler_Routes(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		want   int
	}{
		{"liveness", http.MethodGet, "/health", "", http.StatusOK},
		{"readiness", http.MethodGet, "/ready", "", http.StatusOK},
		{"version", http.MethodGet, "/version", "", http.StatusOK},
		{"stream requires post", http.MethodGet, "/v1/chat/stream", "user-1", http.StatusMethodNotAllowed},
		{"stream requires identity", http.MethodPost, "/v1/chat/stream", "", http.StatusUnauthorized},
		{"conversation lookup", http.MethodGet, "/v1/conversations/user-1", "", http.StatusOK},
		{"unknown conversation", http.MethodGet, "/v1/conversations/user-2", "", http.StatusNotFound},
		{"forget conversation", http.MethodDelete, "/v1/conversations/user-1", "", http.StatusOK},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound},
		{"metrics disabled", http.MethodGet, "/metrics", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"message":"hi"}`))
			if tt.user != "" {
				req.Header.Set("X-User-ID", tt.user)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.want, rec.Body.String())
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("every response should carry a request ID")
			}
		})
	}
}

func TestHandler_StreamCarriesIdentity(t *testing.T) {
	srv, streamer := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Access-Token", "tok")
	req.Header.Set("X-Priority", "high")
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "event: heartbeat") {
		t.Errorf("body = %q", rec.Body.String())
	}

	streamer.mu.Lock()
	got := streamer.got
	streamer.mu.Unlock()
	if got.Identity.ClientID != "user-1" || got.Identity.AccessToken != "tok" {
		t.Errorf("identity = %+v", got.Identity)
	}
	if got.RequestID != "req-42" || got.Message != "hello" || got.Priority != "high" {
		t.Errorf("request = %+v", got)
	}
}

func TestHandler_MetricsUseRoutePatterns(t *testing.T) {
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	srv, _ := newTestServer(t, Deps{Metrics: collector})
	h := srv.Handler()

	for _, path := range []string{"/health", "/v1/conversations/user-1", "/v1/conversations/user-2"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`route="GET /health",status="200"`,
		`route="/v1/conversations/{user}",status="200"`,
		`route="/v1/conversations/{user}",status="404"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
	if strings.Contains(body, "user-1") {
		t.Error("client identities must not appear in metric labels")
	}
}

func TestServer_StartAndStop(t *testing.T) {
	checker := health.New(time.Second)
	adm := &fakeAdmission{}
	srv, _ := newTestServer(t, Deps{Health: checker, Admission: adm})

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not bind")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/ready")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready = %d", resp.StatusCode)
	}
	if !srv.IsRunning() {
		t.Error("server should report running")
	}

	srv.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}

	if srv.IsRunning() {
		t.Error("server should not report running after shutdown")
	}
	if !adm.closed.Load() {
		t.Error("admission should be closed during shutdown")
	}
	if report := checker.Readiness(context.Background()); report.Status != health.StatusDraining {
		t.Errorf("readiness after shutdown = %s", report.Status)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("a stopped server must not start again")
	}
}

func TestServer_ContextCancelStops(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	<-srv.Ready()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop on cancellation")
	}
}

func TestServer_ListenFailure(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	srv.config.Server.ListenAddress = "127.0.0.1:99999"
	if err := srv.Start(context.Background()); err == nil {
		t.Fatal("expected a listen error")
	}
}
