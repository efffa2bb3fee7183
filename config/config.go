// Package config handles relay configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/driftwoodlabs/relay/usage"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./relay.yaml, ~/.config/relay/config.yaml, /etc/relay/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"relay.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "relay", "config.yaml"))
	}

	paths = append(paths, "/etc/relay/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all relay configuration.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Loop    LoopConfig    `yaml:"loop"`
	Usage   UsageConfig   `yaml:"usage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig selects the reasoning service and model.
type ModelConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai
	Name     string `yaml:"name"`
	APIKey   string `yaml:"api_key"`
	// DeliberationDepth is "low", "medium", "high", or empty. Models
	// that reject it get one retry with it cleared.
	DeliberationDepth string `yaml:"deliberation_depth"`
	MaxTokens         int    `yaml:"max_tokens"`
}

// LoopConfig bounds the turn-cycle.
type LoopConfig struct {
	// MaxIterations is the reasoning-call budget per run (default 10).
	MaxIterations int `yaml:"max_iterations"`
	// MaxConversationMessages evicts the oldest history beyond this
	// count. 0 disables eviction.
	MaxConversationMessages int `yaml:"max_conversation_messages"`
	// DefaultInvocationTimeoutSec applies when neither the invocation
	// nor the capability declares a timeout (default 60).
	DefaultInvocationTimeoutSec int `yaml:"default_invocation_timeout_sec"`
	// MaxInvocationTimeoutSec clamps any per-invocation override
	// (default 600).
	MaxInvocationTimeoutSec int `yaml:"max_invocation_timeout_sec"`
	// InlineAttachmentLimitBytes caps attachments carried inline;
	// larger ones need a resource handle (default 262144).
	InlineAttachmentLimitBytes int64 `yaml:"inline_attachment_limit_bytes"`
}

// UsageConfig controls the token ledger and pricing table.
type UsageConfig struct {
	// LedgerPath is the SQLite file for the durable usage ledger.
	// Empty disables persistence; in-memory accounting still runs.
	LedgerPath string `yaml:"ledger_path"`
	// Pricing maps model id to per-million-token rates. Models absent
	// here accumulate tokens unpriced.
	Pricing usage.Pricing `yaml:"pricing"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: "anthropic",
			Name:     "claude-sonnet-4-5",
		},
		Loop: LoopConfig{
			MaxIterations:               10,
			DefaultInvocationTimeoutSec: 60,
			MaxInvocationTimeoutSec:     600,
			InlineAttachmentLimitBytes:  256 * 1024,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (c *Config) validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	switch c.Model.DeliberationDepth {
	case "", "low", "medium", "high":
	default:
		return fmt.Errorf("model.deliberation_depth %q: must be low, medium, or high", c.Model.DeliberationDepth)
	}
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("loop.max_iterations must not be negative")
	}
	if c.Loop.MaxInvocationTimeoutSec > 0 &&
		c.Loop.DefaultInvocationTimeoutSec > c.Loop.MaxInvocationTimeoutSec {
		return fmt.Errorf("loop.default_invocation_timeout_sec %d exceeds max %d",
			c.Loop.DefaultInvocationTimeoutSec, c.Loop.MaxInvocationTimeoutSec)
	}
	return nil
}

// DefaultInvocationTimeout returns the configured default as a Duration.
func (c *LoopConfig) DefaultInvocationTimeout() time.Duration {
	if c.DefaultInvocationTimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.DefaultInvocationTimeoutSec) * time.Second
}

// MaxInvocationTimeout returns the configured ceiling as a Duration.
func (c *LoopConfig) MaxInvocationTimeout() time.Duration {
	if c.MaxInvocationTimeoutSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.MaxInvocationTimeoutSec) * time.Second
}
