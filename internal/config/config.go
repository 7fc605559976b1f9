// Package config loads tripsmith configuration from YAML with sensible
// defaults. CLI flags merge over file values, file values merge over
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents tripsmith configuration options.
type Config struct {
	// RateLimitInterval is the minimum delay between the start of
	// successive producer invocations against the generator service.
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"`

	// PhaseConcurrency bounds concurrent producers within one phase.
	// 1 (the default) runs producers strictly sequentially.
	PhaseConcurrency int `yaml:"phase_concurrency"`

	// DBPath is the path to the result store database.
	DBPath string `yaml:"db_path"`

	// LogLevel sets logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written.
	LogDir string `yaml:"log_dir"`

	// GeneratorURL is the base URL of the content-generation service.
	GeneratorURL string `yaml:"generator_url"`

	// RegistryPath is an optional producer-registry overlay file.
	RegistryPath string `yaml:"registry_path"`

	// LockPath is the file lock guarding against concurrent orchestrator
	// processes sharing one store.
	LockPath string `yaml:"lock_path"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		RateLimitInterval: 5 * time.Second,
		PhaseConcurrency:  1,
		DBPath:            filepath.Join(".tripsmith", "tripsmith.db"),
		LogLevel:          "info",
		LogDir:            filepath.Join(".tripsmith", "logs"),
		GeneratorURL:      "http://localhost:8787",
		RegistryPath:      filepath.Join(".tripsmith", "registry.yaml"),
		LockPath:          filepath.Join(".tripsmith", "run.lock"),
	}
}

// LoadConfig loads configuration from path. A missing file returns the
// defaults without error; a malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Durations arrive as strings ("5s", "1m30s").
	type yamlConfig struct {
		RateLimitInterval string `yaml:"rate_limit_interval"`
		PhaseConcurrency  int    `yaml:"phase_concurrency"`
		DBPath            string `yaml:"db_path"`
		LogLevel          string `yaml:"log_level"`
		LogDir            string `yaml:"log_dir"`
		GeneratorURL      string `yaml:"generator_url"`
		RegistryPath      string `yaml:"registry_path"`
		LockPath          string `yaml:"lock_path"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if yamlCfg.RateLimitInterval != "" {
		interval, err := time.ParseDuration(yamlCfg.RateLimitInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid rate_limit_interval %q: %w", yamlCfg.RateLimitInterval, err)
		}
		cfg.RateLimitInterval = interval
	}
	if yamlCfg.PhaseConcurrency != 0 {
		cfg.PhaseConcurrency = yamlCfg.PhaseConcurrency
	}
	if yamlCfg.DBPath != "" {
		cfg.DBPath = yamlCfg.DBPath
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.GeneratorURL != "" {
		cfg.GeneratorURL = yamlCfg.GeneratorURL
	}
	if yamlCfg.RegistryPath != "" {
		cfg.RegistryPath = yamlCfg.RegistryPath
	}
	if yamlCfg.LockPath != "" {
		cfg.LockPath = yamlCfg.LockPath
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .tripsmith/config.yaml in
// the given directory, falling back to defaults when absent.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".tripsmith", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration. Non-nil flag
// values override configuration values.
func (c *Config) MergeWithFlags(interval *time.Duration, concurrency *int, dbPath, logDir, generatorURL *string) {
	if interval != nil {
		c.RateLimitInterval = *interval
	}
	if concurrency != nil {
		c.PhaseConcurrency = *concurrency
	}
	if dbPath != nil {
		c.DBPath = *dbPath
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if generatorURL != nil {
		c.GeneratorURL = *generatorURL
	}
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if c.RateLimitInterval < 0 {
		return fmt.Errorf("rate_limit_interval must be >= 0, got %v", c.RateLimitInterval)
	}
	if c.PhaseConcurrency < 1 {
		return fmt.Errorf("phase_concurrency must be >= 1, got %d", c.PhaseConcurrency)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.GeneratorURL == "" {
		return fmt.Errorf("generator_url cannot be empty")
	}
	return nil
}
