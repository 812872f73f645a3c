package config

import (
	"sync"
	"sync/atomic"
)

var (
	current  atomic.Pointer[Config]
	initOnce sync.Once
	initErr  error
)

// Initialize loads the file at path with environment overrides and
// publishes it as the process configuration. Only the first call loads;
// later calls return its outcome.
func Initialize(path string) (*Config, error) {
	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		current.Store(cfg)
	})
	return current.Load(), initErr
}

// Current returns the published configuration, or nil before a
// successful Initialize.
func Current() *Config {
	return current.Load()
}
