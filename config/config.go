// Package config defines the Metamorph application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Metamorph configuration.
type Config struct {
	DBPath      string         `json:"db_path" yaml:"db_path"`
	RedisURL    string         `json:"redis_url" yaml:"redis_url"` // empty disables caching
	Concurrency int            `json:"concurrency" yaml:"concurrency"`
	AgentsDir   string         `json:"agents_dir" yaml:"agents_dir"` // generated agent sources
	LogLevel    string         `json:"log_level" yaml:"log_level"`
	Sandbox     SandboxConfig  `json:"sandbox" yaml:"sandbox"`
	Provider    ProviderConfig `json:"provider" yaml:"provider"`
}

// SandboxConfig controls the Docker execution environment.
type SandboxConfig struct {
	Image         string        `json:"image" yaml:"image"`
	MemoryLimitMB int64         `json:"memory_limit_mb" yaml:"memory_limit_mb"`
	WaitTimeout   time.Duration `json:"wait_timeout" yaml:"wait_timeout"` // e.g. "300s"
}

// MemoryLimitBytes returns the configured memory limit in bytes.
func (s SandboxConfig) MemoryLimitBytes() int64 {
	return s.MemoryLimitMB << 20
}

// ProviderConfig selects and configures the generation provider.
type ProviderConfig struct {
	Name      string `json:"name" yaml:"name"` // "mock", "anthropic"
	APIKey    string `json:"api_key,omitempty" yaml:"api_key"`
	Model     string `json:"model,omitempty" yaml:"model"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url"`
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:      "./data/metamorph.db",
		RedisURL:    "redis://localhost:6379/0",
		Concurrency: 4,
		AgentsDir:   "./agents",
		LogLevel:    "info",
		Sandbox: SandboxConfig{
			Image:         "metamorph-tester",
			MemoryLimitMB: 256,
			WaitTimeout:   5 * time.Minute,
		},
		Provider: ProviderConfig{
			Name: "anthropic",
		},
	}
}

// Load reads a YAML config file and returns the parsed configuration
// overlaid on the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
