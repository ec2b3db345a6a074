package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		field, message, want string
	}{
		{"server.listen_address", "is required", "config error in server.listen_address: is required"},
		{"", "file not found", "config error: file not found"},
	}
	for _, tt := range tests {
		if got := NewConfigError(tt.field, tt.message).Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestCommandError(t *testing.T) {
	inner := errors.New("store unavailable")
	err := NewCommandError("conversations", inner)

	if got, want := err.Error(), "command conversations failed: store unavailable"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Error("CommandError should unwrap to its cause")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"config", NewConfigError("x", "bad"), ExitConfig},
		{"wrapped config", fmt.Errorf("startup: %w", NewConfigError("x", "bad")), ExitConfig},
		{"command", NewCommandError("run", errors.New("boom")), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	inner := errors.New("validation failed")
	err := &ConfigError{Message: inner.Error(), Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ConfigError should unwrap to its cause")
	}
	if ExitCode(err) != ExitConfig {
		t.Error("a wrapped cause must not change the exit code")
	}
}
