package config

import (
	"fmt"
	"sync/atomic"
)

// current is the process-wide configuration. The CLI stores it after
// loading and the watcher swaps it on reload.
var current atomic.Pointer[Config]

// GetConfig returns the process-wide configuration, or nil before one has
// been stored.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the process-wide configuration.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// ReloadConfig loads path with environment overrides and stores the
// result. On error the current configuration is left as it was.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return cfg, nil
}
