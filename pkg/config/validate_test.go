package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Upstream.BaseURL = "https://api.coze.com"
	cfg.Upstream.BotID = "bot-123"
	return cfg
}

func TestValidate_DefaultsWithUpstreamAreValid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty listen address", func(c *Config) { c.Server.ListenAddress = "" }, "server.listen_address"},
		{"stream path without slash", func(c *Config) { c.Server.StreamPath = "chat" }, "server.stream_path"},
		{"ftp base url", func(c *Config) { c.Upstream.BaseURL = "ftp://example.com" }, "upstream.base_url"},
		{"missing bot id", func(c *Config) { c.Upstream.BotID = "" }, "upstream.bot_id"},
		{"negative concurrency", func(c *Config) { c.Admission.MaxConcurrent = -1 }, "admission.max_concurrent"},
		{"per second above per minute", func(c *Config) {
			c.Admission.MaxPerSecond = 20
			c.Admission.MaxPerMinute = 10
		}, "admission.max_per_second"},
		{"zero queue timeout", func(c *Config) { c.Admission.QueueTimeout = 0 }, "admission.queue_timeout"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelay = time.Millisecond }, "retry.max_delay"},
		{"shrinking multiplier", func(c *Config) { c.Retry.Multiplier = 0.5 }, "retry.multiplier"},
		{"jitter of one", func(c *Config) { c.Retry.Jitter = 1 }, "retry.jitter"},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "breaker.failure_threshold"},
		{"zero reset timeout", func(c *Config) { c.Breaker.ResetTimeout = 0 }, "breaker.reset_timeout"},
		{"zero flush interval", func(c *Config) { c.Relay.FlushInterval = 0 }, "relay.flush_interval"},
		{"bad boilerplate regex", func(c *Config) { c.Relay.BoilerplatePatterns = []string{"ok", "(unclosed"} }, "relay.boilerplate_patterns[1]"},
		{"unknown store", func(c *Config) { c.Conversation.Store = "redis" }, "conversation.store"},
		{"sqlite without path", func(c *Config) {
			c.Conversation.Store = "sqlite"
			c.Conversation.SQLitePath = ""
		}, "conversation.sqlite_path"},
		{"bad cron", func(c *Config) { c.Conversation.MaintenanceSchedule = "every day" }, "conversation.maintenance_schedule"},
		{"follow-up without variables", func(c *Config) { c.FollowUp.Variables = nil }, "follow_up.variables"},
		{"unknown log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }, "telemetry.logging.level"},
		{"unknown log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"metrics path without slash", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
		{"tracing without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "telemetry.tracing.endpoint"},
		{"tracing bad ratio", func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Endpoint = "localhost:4317"
			c.Telemetry.Tracing.SampleRatio = 2
		}, "telemetry.tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.field)
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestValidate_FollowUpDisabledSkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.FollowUp.Enabled = false
	cfg.FollowUp.Variables = nil
	cfg.FollowUp.Timeout = 0

	if err := Validate(cfg); err != nil {
		t.Fatalf("expected disabled follow-up to skip validation, got %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a.b", Message: "bad"}}}
	if got := single.Error(); got != "configuration validation failed: a.b: bad" {
		t.Errorf("unexpected single error message %q", got)
	}

	multi := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "x"},
		{Field: "b", Message: "y"},
	}}
	msg := multi.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "  - a: x") || !strings.Contains(msg, "  - b: y") {
		t.Errorf("unexpected multi error message %q", msg)
	}

	if (ValidationError{}).Error() != "configuration validation failed" {
		t.Error("unexpected empty error message")
	}
}
