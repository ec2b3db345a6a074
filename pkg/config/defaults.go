package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = 65536   // 64KB
	DefaultStreamPath      = "/v1/chat/stream"

	// Upstream defaults
	DefaultUpstreamName                 = "upstream"
	DefaultUpstreamTimeout              = 15 * time.Second
	DefaultUpstreamStreamConnectTimeout = 30 * time.Second
	DefaultUpstreamMaxIdleConns         = 100
	DefaultUpstreamMaxIdleConnsPerHost  = 20
	DefaultUpstreamIdleConnTimeout      = 90 * time.Second

	// Identity defaults
	DefaultUserHeader     = "X-User-ID"
	DefaultTokenHeader    = "X-Access-Token"
	DefaultPriorityHeader = "X-Priority"

	// Admission defaults
	DefaultAdmissionMaxConcurrent = 50
	DefaultAdmissionMaxQueueSize  = 100
	DefaultAdmissionQueueTimeout  = 30 * time.Second

	// Retry defaults
	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultRetryMaxDelay    = 8 * time.Second
	DefaultRetryMultiplier  = 2.0
	DefaultRetryJitter      = 0.25

	// Breaker defaults
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerResetTimeout     = 30 * time.Second
	DefaultBreakerSuccessThreshold = 2

	// Relay defaults
	DefaultRelayFlushInterval       = 50 * time.Millisecond
	DefaultRelayFlushThresholdBytes = 4096
	DefaultRelayHeartbeatInterval   = 15 * time.Second
	DefaultRelayFinalizeGrace       = 500 * time.Millisecond
	DefaultRelayDisconnectGrace     = 5 * time.Second

	// DefaultBoilerplatePattern matches the confirmation sentence the
	// upstream sometimes injects after producing an image.
	DefaultBoilerplatePattern = `(?i)^\s*(i\s*(have\s+|'ve\s+)?)?already generated an image of .+ for you\.?\s*$`

	// Conversation defaults
	DefaultConversationStore               = "memory"
	DefaultConversationSQLitePath          = "data/conversations.db"
	DefaultConversationStoreRetention      = 720 * time.Hour
	DefaultConversationMaintenanceSchedule = "0 4 * * *"
	DefaultConversationOperationTimeout    = 20 * time.Second

	// Follow-up defaults
	DefaultFollowUpEnabled      = true
	DefaultFollowUpVariable     = "follow_up_questions"
	DefaultFollowUpTimeout      = 3 * time.Second
	DefaultFollowUpMaxQuestions = 3

	// Telemetry defaults
	DefaultLoggingLevel         = "info"
	DefaultLoggingFormat        = "json"
	DefaultLoggingRedactSecrets = true
	DefaultMetricsEnabled       = true
	DefaultMetricsPath          = "/metrics"
	DefaultMetricsNamespace     = "switchboard"
	DefaultMetricsSubsystem     = "relay"
	DefaultTracingSampler       = "ratio"
	DefaultTracingSampleRatio   = 0.1
	DefaultTracingInsecure      = true
	DefaultTracingServiceName   = "switchboard"

	// Reload defaults
	DefaultReloadDebounce = 250 * time.Millisecond
)

// DefaultDurationBuckets are histogram buckets tuned for streamed chat turns
// (sub-second upstream calls up to minute-long answers).
var DefaultDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Default returns a configuration populated with every default, including the
// boolean fields whose default is true. LoadConfig decodes YAML on top of it
// so that an explicit "false" in the file is preserved.
func Default() *Config {
	cfg := &Config{}
	cfg.FollowUp.Enabled = DefaultFollowUpEnabled
	cfg.Telemetry.Logging.RedactSecrets = DefaultLoggingRedactSecrets
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Insecure = DefaultTracingInsecure
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	// WriteTimeout stays zero: streams outlive any fixed write deadline.
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.StreamPath == "" {
		cfg.Server.StreamPath = DefaultStreamPath
	}

	// Upstream defaults
	if cfg.Upstream.Name == "" {
		cfg.Upstream.Name = DefaultUpstreamName
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if cfg.Upstream.StreamConnectTimeout == 0 {
		cfg.Upstream.StreamConnectTimeout = DefaultUpstreamStreamConnectTimeout
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = DefaultUpstreamMaxIdleConns
	}
	if cfg.Upstream.MaxIdleConnsPerHost == 0 {
		cfg.Upstream.MaxIdleConnsPerHost = DefaultUpstreamMaxIdleConnsPerHost
	}
	if cfg.Upstream.IdleConnTimeout == 0 {
		cfg.Upstream.IdleConnTimeout = DefaultUpstreamIdleConnTimeout
	}

	// Identity defaults
	if cfg.Identity.UserHeader == "" {
		cfg.Identity.UserHeader = DefaultUserHeader
	}
	if cfg.Identity.TokenHeader == "" {
		cfg.Identity.TokenHeader = DefaultTokenHeader
	}
	if cfg.Identity.PriorityHeader == "" {
		cfg.Identity.PriorityHeader = DefaultPriorityHeader
	}

	// Admission defaults
	if cfg.Admission.MaxConcurrent == 0 {
		cfg.Admission.MaxConcurrent = DefaultAdmissionMaxConcurrent
	}
	if cfg.Admission.MaxQueueSize == 0 {
		cfg.Admission.MaxQueueSize = DefaultAdmissionMaxQueueSize
	}
	if cfg.Admission.QueueTimeout == 0 {
		cfg.Admission.QueueTimeout = DefaultAdmissionQueueTimeout
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = DefaultRetryMultiplier
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = DefaultRetryJitter
	}

	// Breaker defaults
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if cfg.Breaker.ResetTimeout == 0 {
		cfg.Breaker.ResetTimeout = DefaultBreakerResetTimeout
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = DefaultBreakerSuccessThreshold
	}

	// Relay defaults
	if cfg.Relay.FlushInterval == 0 {
		cfg.Relay.FlushInterval = DefaultRelayFlushInterval
	}
	if cfg.Relay.FlushThresholdBytes == 0 {
		cfg.Relay.FlushThresholdBytes = DefaultRelayFlushThresholdBytes
	}
	if cfg.Relay.HeartbeatInterval == 0 {
		cfg.Relay.HeartbeatInterval = DefaultRelayHeartbeatInterval
	}
	if cfg.Relay.FinalizeGrace == 0 {
		cfg.Relay.FinalizeGrace = DefaultRelayFinalizeGrace
	}
	if cfg.Relay.DisconnectGrace == 0 {
		cfg.Relay.DisconnectGrace = DefaultRelayDisconnectGrace
	}
	if len(cfg.Relay.BoilerplatePatterns) == 0 {
		cfg.Relay.BoilerplatePatterns = []string{DefaultBoilerplatePattern}
	}

	// Conversation defaults
	if cfg.Conversation.Store == "" {
		cfg.Conversation.Store = DefaultConversationStore
	}
	if cfg.Conversation.SQLitePath == "" {
		cfg.Conversation.SQLitePath = DefaultConversationSQLitePath
	}
	if cfg.Conversation.StoreRetention == 0 {
		cfg.Conversation.StoreRetention = DefaultConversationStoreRetention
	}
	if cfg.Conversation.MaintenanceSchedule == "" {
		cfg.Conversation.MaintenanceSchedule = DefaultConversationMaintenanceSchedule
	}
	if cfg.Conversation.OperationTimeout == 0 {
		cfg.Conversation.OperationTimeout = DefaultConversationOperationTimeout
	}

	// Follow-up defaults
	if len(cfg.FollowUp.Variables) == 0 {
		cfg.FollowUp.Variables = []string{DefaultFollowUpVariable}
	}
	if cfg.FollowUp.Timeout == 0 {
		cfg.FollowUp.Timeout = DefaultFollowUpTimeout
	}
	if cfg.FollowUp.MaxQuestions == 0 {
		cfg.FollowUp.MaxQuestions = DefaultFollowUpMaxQuestions
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}

	// Reload defaults
	if cfg.Reload.Debounce == 0 {
		cfg.Reload.Debounce = DefaultReloadDebounce
	}
}
