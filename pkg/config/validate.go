package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateAdmission(&cfg.Admission)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateBreaker(&cfg.Breaker)...)
	errs = append(errs, validateRelay(&cfg.Relay)...)
	errs = append(errs, validateConversation(&cfg.Conversation)...)
	errs = append(errs, validateFollowUp(&cfg.FollowUp)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.MaxHeaderBytes < 0 || cfg.MaxHeaderBytes > 10*1024*1024 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes must be between 0 and 10MB"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must be non-negative"})
	}
	if !strings.HasPrefix(cfg.StreamPath, "/") {
		errs = append(errs, FieldError{Field: "server.stream_path", Message: "stream path must start with '/'"})
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.BaseURL == "" {
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: "base URL is required"})
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: fmt.Sprintf("invalid URL %q", cfg.BaseURL)})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: "URL scheme must be http or https"})
	}
	if cfg.BotID == "" {
		errs = append(errs, FieldError{Field: "upstream.bot_id", Message: "bot id is required"})
	}
	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.timeout", Message: "timeout must be positive"})
	}
	if cfg.StreamConnectTimeout < 0 {
		errs = append(errs, FieldError{Field: "upstream.stream_connect_timeout", Message: "timeout must be positive"})
	}

	return errs
}

func validateAdmission(cfg *AdmissionConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxConcurrent < 0 {
		errs = append(errs, FieldError{Field: "admission.max_concurrent", Message: "must be non-negative (0 = unlimited)"})
	}
	if cfg.MaxPerSecond < 0 {
		errs = append(errs, FieldError{Field: "admission.max_per_second", Message: "must be non-negative (0 = unlimited)"})
	}
	if cfg.MaxPerMinute < 0 {
		errs = append(errs, FieldError{Field: "admission.max_per_minute", Message: "must be non-negative (0 = unlimited)"})
	}
	if cfg.MaxPerSecond > 0 && cfg.MaxPerMinute > 0 && cfg.MaxPerSecond > cfg.MaxPerMinute {
		errs = append(errs, FieldError{Field: "admission.max_per_second", Message: "cannot exceed max_per_minute"})
	}
	if cfg.MaxQueueSize < 0 {
		errs = append(errs, FieldError{Field: "admission.max_queue_size", Message: "must be non-negative"})
	}
	if cfg.QueueTimeout <= 0 {
		errs = append(errs, FieldError{Field: "admission.queue_timeout", Message: "must be positive"})
	}

	return errs
}

func validateRetry(cfg *RetryConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "retry.max_attempts", Message: "must be at least 1"})
	}
	if cfg.BaseDelay <= 0 {
		errs = append(errs, FieldError{Field: "retry.base_delay", Message: "must be positive"})
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		errs = append(errs, FieldError{Field: "retry.max_delay", Message: "must be at least base_delay"})
	}
	if cfg.Multiplier < 1 {
		errs = append(errs, FieldError{Field: "retry.multiplier", Message: "must be at least 1.0"})
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		errs = append(errs, FieldError{Field: "retry.jitter", Message: "must be in [0, 1)"})
	}

	return errs
}

func validateBreaker(cfg *BreakerConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "breaker.failure_threshold", Message: "must be at least 1"})
	}
	if cfg.ResetTimeout <= 0 {
		errs = append(errs, FieldError{Field: "breaker.reset_timeout", Message: "must be positive"})
	}
	if cfg.SuccessThreshold < 1 {
		errs = append(errs, FieldError{Field: "breaker.success_threshold", Message: "must be at least 1"})
	}

	return errs
}

func validateRelay(cfg *RelayConfig) []FieldError {
	var errs []FieldError

	if cfg.FlushInterval <= 0 {
		errs = append(errs, FieldError{Field: "relay.flush_interval", Message: "must be positive"})
	}
	if cfg.FlushThresholdBytes < 1 {
		errs = append(errs, FieldError{Field: "relay.flush_threshold_bytes", Message: "must be at least 1"})
	}
	if cfg.HeartbeatInterval <= 0 {
		errs = append(errs, FieldError{Field: "relay.heartbeat_interval", Message: "must be positive"})
	}
	if cfg.FinalizeGrace < 0 {
		errs = append(errs, FieldError{Field: "relay.finalize_grace", Message: "must be non-negative"})
	}
	if cfg.DisconnectGrace < 0 {
		errs = append(errs, FieldError{Field: "relay.disconnect_grace", Message: "must be non-negative"})
	}
	for i, pattern := range cfg.BoilerplatePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("relay.boilerplate_patterns[%d]", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	return errs
}

func validateConversation(cfg *ConversationConfig) []FieldError {
	var errs []FieldError

	switch cfg.Store {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, FieldError{Field: "conversation.sqlite_path", Message: "required for sqlite store"})
		}
	default:
		errs = append(errs, FieldError{Field: "conversation.store", Message: fmt.Sprintf("unsupported store %q (use memory or sqlite)", cfg.Store)})
	}
	if cfg.StoreRetention < 0 {
		errs = append(errs, FieldError{Field: "conversation.store_retention", Message: "must be non-negative"})
	}
	if cfg.MaintenanceSchedule != "" {
		if _, err := cron.ParseStandard(cfg.MaintenanceSchedule); err != nil {
			errs = append(errs, FieldError{Field: "conversation.maintenance_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	if cfg.OperationTimeout <= 0 {
		errs = append(errs, FieldError{Field: "conversation.operation_timeout", Message: "must be positive"})
	}

	return errs
}

func validateFollowUp(cfg *FollowUpConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}
	if len(cfg.Variables) == 0 {
		errs = append(errs, FieldError{Field: "follow_up.variables", Message: "at least one variable is required when enabled"})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "follow_up.timeout", Message: "must be positive"})
	}
	if cfg.MaxQuestions < 1 {
		errs = append(errs, FieldError{Field: "follow_up.max_questions", Message: "must be at least 1"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("unknown level %q", cfg.Logging.Level)})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("unknown format %q", cfg.Logging.Format)})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with '/'"})
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
		}
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("unknown sampler %q", cfg.Tracing.Sampler)})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
		}
	}

	return errs
}
