package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "SWITCHBOARD_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Default(), remaining zero values receive
// defaults, and the result is validated. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML bytes into a defaulted Config without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention SWITCHBOARD_SECTION_FIELD (e.g., SWITCHBOARD_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Upstream overrides
	envString("UPSTREAM_BASE_URL", &cfg.Upstream.BaseURL)
	envString("UPSTREAM_BOT_ID", &cfg.Upstream.BotID)
	envDuration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	envDuration("UPSTREAM_STREAM_CONNECT_TIMEOUT", &cfg.Upstream.StreamConnectTimeout)

	// Admission overrides
	envInt("ADMISSION_MAX_CONCURRENT", &cfg.Admission.MaxConcurrent)
	envInt("ADMISSION_MAX_PER_SECOND", &cfg.Admission.MaxPerSecond)
	envInt("ADMISSION_MAX_PER_MINUTE", &cfg.Admission.MaxPerMinute)
	envInt("ADMISSION_MAX_QUEUE_SIZE", &cfg.Admission.MaxQueueSize)
	envDuration("ADMISSION_QUEUE_TIMEOUT", &cfg.Admission.QueueTimeout)

	// Retry and breaker overrides
	envInt("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	envDuration("RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	envDuration("RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)
	envInt("BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	envDuration("BREAKER_RESET_TIMEOUT", &cfg.Breaker.ResetTimeout)
	envInt("BREAKER_SUCCESS_THRESHOLD", &cfg.Breaker.SuccessThreshold)

	// Relay overrides
	envDuration("RELAY_FLUSH_INTERVAL", &cfg.Relay.FlushInterval)
	envInt("RELAY_FLUSH_THRESHOLD_BYTES", &cfg.Relay.FlushThresholdBytes)
	envDuration("RELAY_HEARTBEAT_INTERVAL", &cfg.Relay.HeartbeatInterval)
	envBool("RELAY_TRUST_RESTATED_ANSWER", &cfg.Relay.TrustRestatedAnswer)

	// Conversation overrides
	envString("CONVERSATION_STORE", &cfg.Conversation.Store)
	envString("CONVERSATION_SQLITE_PATH", &cfg.Conversation.SQLitePath)
	envString("CONVERSATION_MAINTENANCE_SCHEDULE", &cfg.Conversation.MaintenanceSchedule)

	// Follow-up overrides
	envBool("FOLLOW_UP_ENABLED", &cfg.FollowUp.Enabled)
	if val := os.Getenv(EnvPrefix + "FOLLOW_UP_VARIABLES"); val != "" {
		cfg.FollowUp.Variables = splitList(val)
	}
	envDuration("FOLLOW_UP_TIMEOUT", &cfg.FollowUp.Timeout)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// splitList splits a comma separated value, dropping empty items.
func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
