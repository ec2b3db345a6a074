package config

import (
	"fmt"
	"sync"
)

// ReloadListener is invoked after a successful reload with the previous and
// the new configuration.
type ReloadListener func(old, updated *Config)

var (
	// globalConfig holds the singleton configuration instance.
	globalConfig *Config

	// configMutex protects access to globalConfig and listeners.
	configMutex sync.RWMutex

	// initOnce ensures configuration is initialized only once.
	initOnce sync.Once

	listeners []ReloadListener
)

// Initialize loads configuration from the specified path with environment
// variable overrides and stores it as the global singleton configuration.
// Subsequent calls are ignored.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}

		configMutex.Lock()
		globalConfig = cfg
		configMutex.Unlock()
	})

	return initErr
}

// GetConfig returns the global configuration instance, or nil if Initialize
// has not been called successfully. Safe for concurrent use.
//
// Components receive their sections explicitly at construction; the singleton
// only serves the CLI and the reload path.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// SetConfig replaces the global configuration instance. Intended for tests.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// OnReload registers a listener notified after every successful ReloadConfig.
func OnReload(fn ReloadListener) {
	configMutex.Lock()
	defer configMutex.Unlock()
	listeners = append(listeners, fn)
}

// ReloadConfig reloads the configuration from the specified path. The new
// configuration replaces the global instance only if loading and validation
// succeed; on error the existing configuration remains unchanged.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	configMutex.Lock()
	old := globalConfig
	globalConfig = cfg
	notify := make([]ReloadListener, len(listeners))
	copy(notify, listeners)
	configMutex.Unlock()

	for _, fn := range notify {
		fn(old, cfg)
	}

	return nil
}

// MustGetConfig returns the global configuration instance.
// It panics if the configuration has not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}

// resetForTesting clears all singleton state.
func resetForTesting() {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = nil
	listeners = nil
	initOnce = sync.Once{}
}
