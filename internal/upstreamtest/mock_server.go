// Package upstreamtest provides a mock Coze-style upstream server for tests.
package upstreamtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"time"
)

// MockServer simulates the upstream conversational API: unary JSON
// endpoints, chat event streams, error statuses and slow responses.
type MockServer struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string][]MockResponse
	requests  []RecordedRequest
}

// MockResponse defines a mock response configuration.
type MockResponse struct {
	StatusCode int
	Body       any
	Delay      time.Duration
	Headers    map[string]string

	// Events turns the response into an event stream.
	Events []MockEvent

	// EventDelay is slept between streamed events.
	EventDelay time.Duration
}

// MockEvent is one SSE event of a streamed response.
type MockEvent struct {
	Name string
	Data string
}

// RecordedRequest is a request received by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewMockServer creates and starts a mock server.
func NewMockServer() *MockServer {
	ms := &MockServer{responses: make(map[string][]MockResponse)}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))
	return ms
}

// URL returns the mock server's base URL.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close closes the mock server.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// SetResponse sets the response for a route. A route is either a path
// ("/v3/chat") or a method and path ("PUT /v1/variables").
func (ms *MockServer) SetResponse(route string, response MockResponse) {
	ms.SetResponses(route, response)
}

// SetResponses sets a sequence of responses for a route. Each request
// consumes the next response; the last one repeats.
func (ms *MockServer) SetResponses(route string, responses ...MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[route] = append([]MockResponse(nil), responses...)
}

// GetRequestCount returns the number of requests received.
func (ms *MockServer) GetRequestCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.requests)
}

// RequestCount returns the number of requests received for a route.
func (ms *MockServer) RequestCount(route string) int {
	return len(ms.Requests(route))
}

// Requests returns the requests received for a route, oldest first.
func (ms *MockServer) Requests(route string) []RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var out []RecordedRequest
	for _, r := range ms.requests {
		if r.Path == route || r.Method+" "+r.Path == route {
			out = append(out, r)
		}
	}
	return out
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	ms.mu.Lock()
	ms.requests = append(ms.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	response, ok := ms.next(r.Method + " " + r.URL.Path)
	if !ok {
		response, ok = ms.next(r.URL.Path)
	}
	ms.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if response.Delay > 0 {
		select {
		case <-time.After(response.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}

	if len(response.Events) > 0 {
		ms.handleStream(w, r, response)
		return
	}

	status := response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)

	switch v := response.Body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(v))
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

// next pops the next response for key. Callers hold ms.mu.
func (ms *MockServer) next(key string) (MockResponse, bool) {
	queue, ok := ms.responses[key]
	if !ok || len(queue) == 0 {
		return MockResponse{}, false
	}
	response := queue[0]
	if len(queue) > 1 {
		ms.responses[key] = queue[1:]
	}
	return response, true
}

func (ms *MockServer) handleStream(w http.ResponseWriter, r *http.Request, response MockResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	status := response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	flusher.Flush()

	for i, ev := range response.Events {
		if i > 0 && response.EventDelay > 0 {
			select {
			case <-time.After(response.EventDelay):
			case <-r.Context().Done():
				return
			}
		}
		if ev.Name != "" {
			fmt.Fprintf(w, "event: %s\n", ev.Name)
		}
		fmt.Fprintf(w, "data: %s\n\n", ev.Data)
		flusher.Flush()
	}
}

// DeltaEvent creates an incremental answer event.
func DeltaEvent(content string) MockEvent {
	return messageEvent("conversation.message.delta", "answer", content)
}

// AnswerEvent creates a completed answer event carrying the full text.
func AnswerEvent(content string) MockEvent {
	return messageEvent("conversation.message.completed", "answer", content)
}

// FollowUpEvent creates a completed follow-up suggestion event.
func FollowUpEvent(question string) MockEvent {
	return messageEvent("conversation.message.completed", "follow_up", question)
}

// VerboseEvent creates a completed verbose event.
func VerboseEvent(content string) MockEvent {
	return messageEvent("conversation.message.completed", "verbose", content)
}

// ChatCompletedEvent creates the turn completion event.
func ChatCompletedEvent() MockEvent {
	return jsonEvent("conversation.chat.completed", map[string]any{
		"id":              "chat-1",
		"conversation_id": "conv-1",
		"status":          "completed",
	})
}

// ChatFailedEvent creates a failed turn event.
func ChatFailedEvent(code int, msg string) MockEvent {
	return jsonEvent("conversation.chat.failed", map[string]any{
		"id":         "chat-1",
		"status":     "failed",
		"last_error": map[string]any{"code": code, "msg": msg},
	})
}

// DoneEvent creates the final stream event.
func DoneEvent() MockEvent {
	return MockEvent{Name: "done", Data: `"[DONE]"`}
}

// RawEvent creates an event with arbitrary data.
func RawEvent(name, data string) MockEvent {
	return MockEvent{Name: name, Data: data}
}

// ConversationBody creates a create-conversation response body.
func ConversationBody(id string) map[string]any {
	return map[string]any{
		"code": 0,
		"data": map[string]any{"id": id, "created_at": time.Now().Unix()},
	}
}

// ConversationListBody creates a list-conversations response body.
func ConversationListBody(ids ...string) map[string]any {
	convs := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		convs = append(convs, map[string]any{"id": id, "created_at": time.Now().Unix()})
	}
	return map[string]any{
		"code": 0,
		"data": map[string]any{"conversations": convs, "has_more": false},
	}
}

// VariablesBody creates a get-variables response body.
func VariablesBody(values map[string]string) map[string]any {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		items = append(items, map[string]any{"keyword": k, "value": values[k]})
	}
	return map[string]any{"code": 0, "data": map[string]any{"items": items}}
}

// OKBody creates an empty success envelope.
func OKBody() map[string]any {
	return map[string]any{"code": 0, "msg": ""}
}

// ErrorBody creates an application error envelope.
func ErrorBody(code int, msg string) map[string]any {
	return map[string]any{"code": code, "msg": msg}
}

func messageEvent(name, msgType, content string) MockEvent {
	return jsonEvent(name, map[string]any{
		"id":              "msg-1",
		"conversation_id": "conv-1",
		"role":            "assistant",
		"type":            msgType,
		"content":         content,
	})
}

func jsonEvent(name string, payload any) MockEvent {
	data, _ := json.Marshal(payload)
	return MockEvent{Name: name, Data: string(data)}
}
