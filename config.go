package caresync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/telecare/caresync/logging"
)

// Config is the YAML-loadable configuration for the sync subsystem.
type Config struct {
	Logging logging.Config    `json:"logging,omitempty" yaml:"logging,omitempty"`
	Queue   QueueSettings     `json:"queue,omitempty" yaml:"queue,omitempty"`
	Retry   SubscriptionRetry `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// QueueSettings configures the offline action queue.
type QueueSettings struct {
	MaxRetries      int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	FlushIntervalMs int `json:"flush_interval_ms,omitempty" yaml:"flush_interval_ms,omitempty"`
}

// SubscriptionRetry configures the listener setup retry helper.
type SubscriptionRetry struct {
	MaxAttempts    int     `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	InitialDelayMs int     `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
	MaxDelayMs     int     `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// DefaultServiceConfig returns a Config with production defaults.
func DefaultServiceConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig,
		Queue: QueueSettings{
			MaxRetries:      DefaultMaxRetries,
			FlushIntervalMs: int(DefaultFlushInterval / time.Millisecond),
		},
		Retry: SubscriptionRetry{
			MaxAttempts:    3,
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			Multiplier:     2.0,
		},
	}
}

// LoadConfig reads and validates a YAML config file, applying defaults for
// absent fields.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultServiceConfig()
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.FlushIntervalMs < 0 {
		return fmt.Errorf("queue.flush_interval_ms must not be negative, got %d", c.Queue.FlushIntervalMs)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 0 {
		return fmt.Errorf("retry.multiplier must not be negative, got %v", c.Retry.Multiplier)
	}
	if c.Retry.MaxDelayMs > 0 && c.Retry.InitialDelayMs > c.Retry.MaxDelayMs {
		return fmt.Errorf("retry.initial_delay_ms (%d) exceeds retry.max_delay_ms (%d)",
			c.Retry.InitialDelayMs, c.Retry.MaxDelayMs)
	}
	return nil
}

// QueueConfig converts the settings into the queue's runtime configuration.
func (c *Config) QueueConfig() QueueConfig {
	return QueueConfig{
		MaxRetries:    c.Queue.MaxRetries,
		FlushInterval: time.Duration(c.Queue.FlushIntervalMs) * time.Millisecond,
	}
}

// ServiceOptions converts the settings into the service's runtime options.
func (c *Config) ServiceOptions() ServiceOptions {
	return ServiceOptions{
		RetryAttempts: c.Retry.MaxAttempts,
		RetryBackoff: &ExponentialBackoff{
			InitialDelay: time.Duration(c.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(c.Retry.MaxDelayMs) * time.Millisecond,
			Multiplier:   c.Retry.Multiplier,
		},
	}
}
