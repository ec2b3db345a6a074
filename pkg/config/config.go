package config

import "time"

// Config is the root configuration structure for Switchboard.
// It contains all configuration sections for the HTTP front end, the upstream
// conversational provider, the resilience layers, the stream relay, and
// telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and route paths.
	Server ServerConfig `yaml:"server"`

	// Upstream contains configuration for the upstream conversational-AI
	// provider client.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Identity contains the header names used to receive the resolved client
	// identity and upstream credential from the identity collaborator.
	Identity IdentityConfig `yaml:"identity"`

	// Admission contains concurrency, rate and queue limits applied before any
	// upstream-bound work starts.
	Admission AdmissionConfig `yaml:"admission"`

	// Retry contains the retry policy applied to upstream calls.
	Retry RetryConfig `yaml:"retry"`

	// Breaker contains the circuit breaker settings shared by every upstream
	// operation class.
	Breaker BreakerConfig `yaml:"breaker"`

	// Relay contains the stream relay buffering, heartbeat and termination
	// settings.
	Relay RelayConfig `yaml:"relay"`

	// Conversation contains conversation affinity cache settings.
	Conversation ConversationConfig `yaml:"conversation"`

	// FollowUp contains the follow-up reconciler settings.
	FollowUp FollowUpConfig `yaml:"follow_up"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Reload controls hot reloading of the configuration file.
	Reload HotReloadConfig `yaml:"reload"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port for the server to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Streams are long lived, so zero (no timeout) is the default;
	// liveness is handled by relay heartbeats.
	// Default: 0
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits the size of a chat request body.
	// Default: 65536 (64KB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// StreamPath is the route of the streaming chat endpoint.
	// Default: "/v1/chat/stream"
	StreamPath string `yaml:"stream_path"`
}

// UpstreamConfig contains configuration for the upstream provider client.
type UpstreamConfig struct {
	// Name identifies the upstream in logs, metrics and errors.
	// Default: "upstream"
	Name string `yaml:"name"`

	// BaseURL is the base URL of the upstream API.
	// Example: "https://api.coze.com"
	BaseURL string `yaml:"base_url"`

	// BotID identifies the upstream assistant every conversation talks to.
	BotID string `yaml:"bot_id"`

	// Timeout bounds every non-streaming upstream request (conversation
	// create/list, variable reads and writes).
	// Default: 15s
	Timeout time.Duration `yaml:"timeout"`

	// StreamConnectTimeout bounds opening a chat stream (until response
	// headers arrive). The body itself is unbounded.
	// Default: 30s
	StreamConnectTimeout time.Duration `yaml:"stream_connect_timeout"`

	// MaxIdleConns is the size of the shared connection pool.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxIdleConnsPerHost is the per-host idle connection limit.
	// Default: 20
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// IdleConnTimeout is how long idle pooled connections are kept.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// IdentityConfig names the headers supplied by the identity collaborator.
type IdentityConfig struct {
	// UserHeader carries the resolved client identity.
	// Default: "X-User-ID"
	UserHeader string `yaml:"user_header"`

	// TokenHeader carries the time-boxed upstream credential.
	// Default: "X-Access-Token"
	TokenHeader string `yaml:"token_header"`

	// PriorityHeader optionally carries the admission priority ("high").
	// Default: "X-Priority"
	PriorityHeader string `yaml:"priority_header"`
}

// AdmissionConfig contains admission controller limits. Zero means unlimited
// for the three ceilings.
type AdmissionConfig struct {
	// MaxConcurrent is the in-flight ceiling.
	// Default: 50
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxPerSecond is the per-second admission ceiling (fixed window).
	// Default: 0 (unlimited)
	MaxPerSecond int `yaml:"max_per_second"`

	// MaxPerMinute is the per-minute admission ceiling (fixed window).
	// Default: 0 (unlimited)
	MaxPerMinute int `yaml:"max_per_minute"`

	// MaxQueueSize bounds the wait queue. Submissions beyond it fail fast.
	// Default: 100
	MaxQueueSize int `yaml:"max_queue_size"`

	// QueueTimeout is how long a queued request may wait for a slot.
	// Default: 30s
	QueueTimeout time.Duration `yaml:"queue_timeout"`
}

// RetryConfig contains the upstream retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per guarded call.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay before the second attempt.
	// Default: 500ms
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the computed delay.
	// Default: 8s
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the exponential growth factor.
	// Default: 2.0
	Multiplier float64 `yaml:"multiplier"`

	// Jitter is the randomization factor applied to each delay.
	// Default: 0.25 (±25%)
	Jitter float64 `yaml:"jitter"`
}

// BreakerConfig contains circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is how long an open breaker waits before allowing a
	// half-open probe.
	// Default: 30s
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// SuccessThreshold is the number of consecutive half-open successes that
	// close the breaker.
	// Default: 2
	SuccessThreshold int `yaml:"success_threshold"`
}

// RelayConfig contains stream relay settings.
type RelayConfig struct {
	// FlushInterval is the maximum time a buffered frame waits before being
	// written to the client.
	// Default: 50ms
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushThresholdBytes flushes the buffer as soon as it holds this many
	// bytes.
	// Default: 4096
	FlushThresholdBytes int `yaml:"flush_threshold_bytes"`

	// HeartbeatInterval is the fixed period between heartbeat frames.
	// Default: 15s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// FinalizeGrace is the delay between the terminal frame and transport
	// teardown.
	// Default: 500ms
	FinalizeGrace time.Duration `yaml:"finalize_grace"`

	// DisconnectGrace is how long upstream events keep being consumed after
	// the client disconnects, so a completion can still be recorded.
	// Default: 5s
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// BoilerplatePatterns are regular expressions matched against single
	// lines of the answer; matching lines are removed before the client sees
	// them. Default: the "already generated an image of ... for you." template.
	BoilerplatePatterns []string `yaml:"boilerplate_patterns"`

	// TrustRestatedAnswer makes the upstream's completed answer replace the
	// accumulated text unconditionally instead of keeping the longer one.
	// Default: false
	TrustRestatedAnswer bool `yaml:"trust_restated_answer"`
}

// ConversationConfig contains conversation affinity cache settings.
type ConversationConfig struct {
	// Store selects where resolved handles are persisted in addition to the
	// in-process map. Options: "memory", "sqlite"
	// Default: "memory"
	Store string `yaml:"store"`

	// SQLitePath is the database path for the "sqlite" store.
	// Default: "data/conversations.db"
	SQLitePath string `yaml:"sqlite_path"`

	// StoreRetention prunes persisted handles that were not used for this
	// long. Zero disables pruning.
	// Default: 720h (30 days)
	StoreRetention time.Duration `yaml:"store_retention"`

	// MaintenanceSchedule is a cron expression for store maintenance.
	// Default: "0 4 * * *"
	MaintenanceSchedule string `yaml:"maintenance_schedule"`

	// OperationTimeout bounds a detached conversation discovery/creation.
	// Default: 20s
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// FollowUpConfig contains follow-up reconciler settings.
type FollowUpConfig struct {
	// Enabled turns the side-channel fetch on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Variables are the upstream variable names holding suggested questions.
	// Default: ["follow_up_questions"]
	Variables []string `yaml:"variables"`

	// Timeout bounds the side-channel read.
	// Default: 3s
	Timeout time.Duration `yaml:"timeout"`

	// MaxQuestions caps the number of questions attached to the final frame.
	// Default: 3
	MaxQuestions int `yaml:"max_questions"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks access tokens and bearer credentials in log
	// attributes.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "switchboard"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "relay"
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets defines histogram buckets for latencies (seconds).
	// Default: [0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60]
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// ServiceName is the service name in traces.
	// Default: "switchboard"
	ServiceName string `yaml:"service_name"`
}

// HotReloadConfig controls configuration hot reload.
type HotReloadConfig struct {
	// Watch enables watching the configuration file for changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period after a change before reloading.
	// Default: 250ms
	Debounce time.Duration `yaml:"debounce"`
}
