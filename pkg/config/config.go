// Package config loads the Document Linter Orchestrator's configuration: a
// single small YAML file covering crash recovery, debug logging, and the
// cmd/lintwatch demo's watch glob and metrics address.
//
// A single global Config instance is held in memory behind a mutex, mirroring
// the orchestrator's own config package: GetConfig returns a copy, never a
// pointer into the live singleton, so callers cannot mutate it out from under
// Load.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxRecoveryAttempts bounds consecutive crash-recovery attempts
	// per operation before LintingCrashed is surfaced.
	DefaultMaxRecoveryAttempts = 8
	// DefaultWatchGlob is the cmd/lintwatch file pattern used when none is
	// configured.
	DefaultWatchGlob = "**/*.js"
)

// Config is the orchestrator's full configuration.
type Config struct {
	// MaxRecoveryAttempts bounds consecutive crash-recovery retries per
	// document-linter operation before it surfaces ErrLintingCrashed.
	MaxRecoveryAttempts int `yaml:"max_recovery_attempts"`
	// Debug toggles verbose logging across all components; equivalent to
	// setting LINTORCH_DEBUG=1 in the environment.
	Debug bool `yaml:"debug"`
	// WatchGlob is the file pattern cmd/lintwatch watches for.
	WatchGlob string `yaml:"watch_glob"`
	// MetricsAddr is the address the Prometheus /metrics endpoint listens
	// on in cmd/lintwatch. Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

var (
	mu     sync.RWMutex
	config *Config
)

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		Debug:               false,
		WatchGlob:           DefaultWatchGlob,
		MetricsAddr:         "",
	}
}

// Load reads and parses the YAML file at path into the global singleton,
// applying defaults for any zero-valued field left unset by the file. A
// missing file is not an error: Load falls back to Default().
func Load(path string) error {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			mu.Lock()
			config = &cfg
			mu.Unlock()
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(&cfg)

	mu.Lock()
	config = &cfg
	mu.Unlock()
	return nil
}

// applyDefaults fills in zero-valued fields the YAML file left unset.
func applyDefaults(cfg *Config) {
	if cfg.MaxRecoveryAttempts == 0 {
		cfg.MaxRecoveryAttempts = DefaultMaxRecoveryAttempts
	}
	if cfg.WatchGlob == "" {
		cfg.WatchGlob = DefaultWatchGlob
	}
}

// GetConfig returns the currently loaded configuration by value. If Load has
// not been called yet, it returns Default().
func GetConfig() Config {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Default()
	}
	return *config
}
