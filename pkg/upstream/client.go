package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/telemetry/tracing"

	"github.com/tidwall/gjson"
)

// Upstream API paths.
const (
	pathCreateConversation = "/v1/conversation/create"
	pathListConversations  = "/v1/conversations"
	pathChat               = "/v3/chat"
	pathVariables          = "/v1/variables"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 4096

// HTTPClient talks to a Coze-style conversational API over HTTP. It keeps a
// pooled transport and performs exactly one attempt per call.
type HTTPClient struct {
	name                 string
	baseURL              string
	botID                string
	timeout              time.Duration
	streamConnectTimeout time.Duration
	client               *http.Client
	logger               *slog.Logger
}

// NewHTTPClient creates an upstream client from configuration.
func NewHTTPClient(cfg config.UpstreamConfig, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid upstream base_url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = config.DefaultUpstreamName
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPClient{
		name:                 name,
		baseURL:              strings.TrimRight(cfg.BaseURL, "/"),
		botID:                cfg.BotID,
		timeout:              cfg.Timeout,
		streamConnectTimeout: cfg.StreamConnectTimeout,
		// No client-wide timeout: chat streams are long lived. Unary calls
		// are bounded per request.
		client: &http.Client{Transport: transport},
		logger: logger.With("component", "upstream", "upstream", name),
	}, nil
}

// Name returns the upstream name.
func (c *HTTPClient) Name() string {
	return c.name
}

// Close releases pooled connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// CreateConversation creates a new upstream conversation.
func (c *HTTPClient) CreateConversation(ctx context.Context, id Identity) (Conversation, error) {
	body := map[string]any{
		"bot_id":    c.botID,
		"meta_data": map[string]string{"user_id": id.ClientID},
	}

	data, err := c.doJSON(ctx, "create_conversation", http.MethodPost, pathCreateConversation, nil, id, body)
	if err != nil {
		return Conversation{}, err
	}

	conv := conversationFrom(data.Get("data"))
	if conv.ID == "" {
		return Conversation{}, &ParseError{
			Provider:    c.name,
			RawResponse: truncate(data.Raw),
			Cause:       errors.New("conversation id missing from response"),
		}
	}
	return conv, nil
}

// ListRecentConversations lists the client's most recent conversations.
func (c *HTTPClient) ListRecentConversations(ctx context.Context, id Identity, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 1
	}
	query := url.Values{}
	query.Set("bot_id", c.botID)
	query.Set("page_num", "1")
	query.Set("page_size", strconv.Itoa(limit))

	data, err := c.doJSON(ctx, "list_conversations", http.MethodGet, pathListConversations, query, id, nil)
	if err != nil {
		return nil, err
	}

	var out []Conversation
	data.Get("data.conversations").ForEach(func(_, value gjson.Result) bool {
		if conv := conversationFrom(value); conv.ID != "" {
			out = append(out, conv)
		}
		return len(out) < limit
	})
	return out, nil
}

// GetVariables reads client-scoped variables.
func (c *HTTPClient) GetVariables(ctx context.Context, id Identity, names []string) (map[string]string, error) {
	query := url.Values{}
	query.Set("bot_id", c.botID)
	query.Set("connector_uid", id.ClientID)
	if len(names) > 0 {
		query.Set("keywords", strings.Join(names, ","))
	}

	data, err := c.doJSON(ctx, "get_variables", http.MethodGet, pathVariables, query, id, nil)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	data.Get("data.items").ForEach(func(_, item gjson.Result) bool {
		key := item.Get("keyword").String()
		if key != "" && item.Get("value").Exists() {
			out[key] = item.Get("value").String()
		}
		return true
	})
	return out, nil
}

// SetVariables writes client-scoped variables.
func (c *HTTPClient) SetVariables(ctx context.Context, id Identity, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, map[string]string{"keyword": k, "value": values[k]})
	}

	body := map[string]any{
		"bot_id":        c.botID,
		"connector_uid": id.ClientID,
		"data":          items,
	}
	_, err := c.doJSON(ctx, "set_variables", http.MethodPut, pathVariables, nil, id, body)
	return err
}

// OpenChatStream starts a streamed chat turn. The connect timeout covers
// the request until response headers arrive; reading the body is bounded
// only by ctx and Close.
func (c *HTTPClient) OpenChatStream(ctx context.Context, req ChatRequest) (EventStream, error) {
	body := map[string]any{
		"bot_id":            c.botID,
		"user_id":           req.Identity.ClientID,
		"stream":            true,
		"auto_save_history": true,
		"additional_messages": []map[string]string{{
			"role":         "user",
			"content":      req.Message,
			"content_type": "text",
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	query := url.Values{}
	if req.ConversationID != "" {
		query.Set("conversation_id", req.ConversationID)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if c.streamConnectTimeout > 0 {
		timer = time.AfterFunc(c.streamConnectTimeout, cancel)
	}

	resp, err := c.do(streamCtx, http.MethodPost, pathChat, query, req.Identity, payload, "text/event-stream")
	connectTimedOut := timer != nil && !timer.Stop()
	if err != nil {
		cancel()
		if connectTimedOut && ctx.Err() == nil {
			return nil, &TimeoutError{Provider: c.name, Operation: "open_stream", Duration: c.streamConnectTimeout}
		}
		return nil, c.classifyTransportError(ctx, "open_stream", err)
	}
	if connectTimedOut {
		resp.Body.Close()
		cancel()
		return nil, &TimeoutError{Provider: c.name, Operation: "open_stream", Duration: c.streamConnectTimeout}
	}

	if err := c.checkStatus(resp); err != nil {
		cancel()
		return nil, err
	}

	// Some deployments answer application errors with a JSON body instead
	// of an event stream.
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		defer cancel()
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err := c.applicationError(gjson.ParseBytes(raw)); err != nil {
			return nil, err
		}
		return nil, &ParseError{Provider: c.name, RawResponse: string(raw), Cause: errors.New("expected an event stream")}
	}

	c.logger.DebugContext(ctx, "chat stream opened", "conversation_id", req.ConversationID)
	return newEventStream(c.name, resp.Body, cancel), nil
}

// doJSON performs a unary request bounded by the configured timeout and
// returns the decoded envelope after checking the application error code.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, query url.Values, id Identity, body any) (gjson.Result, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.do(reqCtx, method, path, query, id, payload, "application/json")
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return gjson.Result{}, &TimeoutError{Provider: c.name, Operation: op, Duration: c.timeout}
		}
		return gjson.Result{}, c.classifyTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return gjson.Result{}, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return gjson.Result{}, &TimeoutError{Provider: c.name, Operation: op, Duration: c.timeout}
		}
		return gjson.Result{}, &NetworkError{Provider: c.name, Cause: fmt.Errorf("failed to read response: %w", err)}
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &ParseError{
			Provider:    c.name,
			RawResponse: truncate(string(raw)),
			Cause:       fmt.Errorf("invalid JSON in %s response", op),
		}
	}

	data := gjson.ParseBytes(raw)
	if err := c.applicationError(data); err != nil {
		return gjson.Result{}, err
	}

	c.logger.DebugContext(ctx, "upstream call completed",
		"operation", op,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return data, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, id Identity, payload []byte, accept string) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if id.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+id.AccessToken)
	}
	tracing.Inject(ctx, req.Header)

	return c.client.Do(req)
}

// checkStatus converts non-2xx responses into typed errors and closes the
// body in that case.
func (c *HTTPClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(raw))
	if msg := gjson.GetBytes(raw, "msg"); msg.Exists() && msg.String() != "" {
		message = msg.String()
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Provider: c.name, StatusCode: resp.StatusCode, Message: message}
	case http.StatusTooManyRequests:
		return &RateLimitError{
			Provider:   c.name,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    message,
		}
	default:
		return &ProviderError{Provider: c.name, StatusCode: resp.StatusCode, Message: message}
	}
}

// applicationError inspects the {"code": n, "msg": "..."} envelope.
func (c *HTTPClient) applicationError(data gjson.Result) error {
	code := data.Get("code")
	if !code.Exists() || code.Int() == 0 {
		return nil
	}
	return &ProviderError{Provider: c.name, Code: int(code.Int()), Message: data.Get("msg").String()}
}

// classifyTransportError wraps errors from http.Client.Do. Caller
// cancellation is returned unchanged so it is never mistaken for an upstream
// failure.
func (c *HTTPClient) classifyTransportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Warn("upstream request failed", "operation", op, "error", err)
	return &NetworkError{Provider: c.name, Cause: err}
}

func conversationFrom(v gjson.Result) Conversation {
	conv := Conversation{ID: v.Get("id").String()}
	if ts := v.Get("created_at").Int(); ts > 0 {
		conv.CreatedAt = time.Unix(ts, 0).UTC()
	}
	return conv
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

// newScanner returns a line scanner sized for long event payloads.
func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return scanner
}
