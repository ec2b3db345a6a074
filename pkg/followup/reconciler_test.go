package followup

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"mercator-hq/switchboard/internal/upstreamtest"
	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/resilience"
	"mercator-hq/switchboard/pkg/upstream"
)

var identity = upstream.Identity{ClientID: "user-1", AccessToken: "tok"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingMetrics struct {
	mu      sync.Mutex
	sources []string
}

func (m *recordingMetrics) FollowUpsReconciled(source string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source)
}

func setup(t *testing.T, cfg config.FollowUpConfig) (*upstreamtest.MockServer, *Reconciler, *recordingMetrics) {
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
		resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2},
		resilience.BreakerSettings{FailureThreshold: 10, ResetTimeout: time.Minute, SuccessThreshold: 1},
		resilience.WithLogger(quietLogger()),
	)
	metrics := &recordingMetrics{}
	return server, NewReconciler(client, guard, cfg, WithLogger(quietLogger()), WithMetrics(metrics)), metrics
}

func enabledConfig() config.FollowUpConfig {
	return config.FollowUpConfig{
		Enabled:      true,
		Variables:    []string{"follow_up_questions"},
		Timeout:      time.Second,
		MaxQuestions: 3,
	}
}

func TestReconcile_StreamEmbeddedWins(t *testing.T) {
	server, r, metrics := setup(t, enabledConfig())

	res := r.Reconcile(context.Background(), identity, []string{"What next?", "what next?", " Why? "})
	if res.Source != SourceStream {
		t.Fatalf("source = %s", res.Source)
	}
	if !reflect.DeepEqual(res.Questions, []string{"What next?", "Why?"}) {
		t.Errorf("questions = %q", res.Questions)
	}
	if server.GetRequestCount() != 0 {
		t.Error("side channel must not be consulted when the stream carried follow-ups")
	}
	if len(metrics.sources) != 1 || metrics.sources[0] != SourceStream {
		t.Errorf("metrics = %v", metrics.sources)
	}
}

func TestReconcile_SideChannel(t *testing.T) {
	server, r, _ := setup(t, enabledConfig())
	server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{
		Body: upstreamtest.VariablesBody(map[string]string{
			"follow_up_questions": `["How much?","When?","Where?","Who?"]`,
		}),
	})
	server.SetResponse("PUT /v1/variables", upstreamtest.MockResponse{Body: upstreamtest.OKBody()})

	res := r.Reconcile(context.Background(), identity, nil)
	if res.Source != SourceSideChannel {
		t.Fatalf("source = %s", res.Source)
	}
	if !reflect.DeepEqual(res.Questions, []string{"How much?", "When?", "Where?"}) {
		t.Errorf("questions = %q", res.Questions)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	puts := server.Requests("PUT /v1/variables")
	if len(puts) != 1 {
		t.Fatalf("expected one clear request, got %d", len(puts))
	}
	var body struct {
		Data []struct {
			Keyword string `json:"keyword"`
			Value   string `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(puts[0].Body, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 1 || body.Data[0].Keyword != "follow_up_questions" || body.Data[0].Value != "" {
		t.Errorf("unexpected clear body %s", puts[0].Body)
	}
}

func TestReconcile_ClearRetriedOnce(t *testing.T) {
	server, r, _ := setup(t, enabledConfig())
	server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{
		Body: upstreamtest.VariablesBody(map[string]string{"follow_up_questions": "1. A?\n2. B?"}),
	})
	server.SetResponse("PUT /v1/variables", upstreamtest.MockResponse{StatusCode: 503, Body: upstreamtest.ErrorBody(503, "busy")})

	res := r.Reconcile(context.Background(), identity, nil)
	if !reflect.DeepEqual(res.Questions, []string{"A?", "B?"}) {
		t.Fatalf("questions = %q", res.Questions)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Wait(ctx)
	if n := server.RequestCount("PUT /v1/variables"); n != 2 {
		t.Errorf("expected two clear attempts, got %d", n)
	}
}

func TestReconcile_ClearTriedTwiceWhateverTheFailure(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		openBreaker bool
	}{
		{"permanent error", 400, false},
		{"open set_variables circuit", 503, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, r, _ := setup(t, enabledConfig())
			server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{
				Body: upstreamtest.VariablesBody(map[string]string{"follow_up_questions": "A?"}),
			})
			server.SetResponse("PUT /v1/variables", upstreamtest.MockResponse{StatusCode: tt.status, Body: upstreamtest.ErrorBody(tt.status, "no")})
			if tt.openBreaker {
				b := r.guard.Breaker(resilience.ClassSetVariables)
				for b.State() != resilience.StateOpen {
					b.RecordFailure()
				}
			}

			r.Reconcile(context.Background(), identity, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.Wait(ctx); err != nil {
				t.Fatal(err)
			}
			if n := server.RequestCount("PUT /v1/variables"); n != 2 {
				t.Errorf("expected two clear attempts, got %d", n)
			}
		})
	}
}

func TestReconcile_SideChannelFailureIsNone(t *testing.T) {
	server, r, _ := setup(t, enabledConfig())
	server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{StatusCode: 500, Body: upstreamtest.ErrorBody(500, "boom")})

	res := r.Reconcile(context.Background(), identity, nil)
	if res.Source != SourceNone || len(res.Questions) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Questions == nil {
		t.Error("questions should be an empty list, not nil")
	}
	if n := server.RequestCount("GET /v1/variables"); n != 1 {
		t.Errorf("side channel read is a single attempt, got %d", n)
	}
}

func TestReconcile_SideChannelTimeout(t *testing.T) {
	cfg := enabledConfig()
	cfg.Timeout = 20 * time.Millisecond
	server, r, _ := setup(t, cfg)
	server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{
		Delay: 500 * time.Millisecond,
		Body:  upstreamtest.VariablesBody(map[string]string{"follow_up_questions": "late"}),
	})

	start := time.Now()
	res := r.Reconcile(context.Background(), identity, nil)
	if res.Source != SourceNone {
		t.Fatalf("source = %s", res.Source)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Error("reconcile exceeded the side channel timeout")
	}
}

func TestReconcile_EmptyVariablesNotCleared(t *testing.T) {
	server, r, _ := setup(t, enabledConfig())
	server.SetResponse("GET /v1/variables", upstreamtest.MockResponse{
		Body: upstreamtest.VariablesBody(map[string]string{"follow_up_questions": ""}),
	})

	res := r.Reconcile(context.Background(), identity, nil)
	if res.Source != SourceNone {
		t.Fatalf("source = %s", res.Source)
	}
	r.Wait(context.Background())
	if n := server.RequestCount("PUT /v1/variables"); n != 0 {
		t.Errorf("empty variables should not be cleared, got %d writes", n)
	}
}

func TestReconcile_Disabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	server, r, _ := setup(t, cfg)

	if res := r.Reconcile(context.Background(), identity, nil); res.Source != SourceNone {
		t.Fatalf("source = %s", res.Source)
	}
	if server.GetRequestCount() != 0 {
		t.Error("disabled reconciler must not call the upstream")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "  ", nil},
		{"json strings", `["A?", "B?", ""]`, []string{"A?", "B?"}},
		{"json objects", `[{"question":"A?"},{"content":"B?"},{"text":"C?"}]`, []string{"A?", "B?", "C?"}},
		{"numbered", "1. First?\n2) Second?\n3、Third?", []string{"First?", "Second?", "Third?"}},
		{"bulleted", "- One\n* Two\n• Three", []string{"One", "Two", "Three"}},
		{"plain", "Just one question?", []string{"Just one question?"}},
		{"broken json is a line", `["A?"`, []string{`["A?"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]string{"a", " A ", "", "b", "c", "d"}, 3)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("Normalize = %q", got)
	}
	if got := Normalize([]string{"x", "y"}, 0); len(got) != 2 {
		t.Errorf("zero limit should keep all, got %q", got)
	}
}
