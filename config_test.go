package caresync

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caresync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "queue:\n  max_retries: 5\n")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Queue.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", config.Queue.MaxRetries)
	}
	if got := config.QueueConfig().FlushInterval; got != DefaultFlushInterval {
		t.Errorf("FlushInterval = %v, want default %v", got, DefaultFlushInterval)
	}
	if config.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want default 3", config.Retry.MaxAttempts)
	}
}

func TestLoadConfig_FullDocument(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: json
queue:
  max_retries: 2
  flush_interval_ms: 5000
retry:
  max_attempts: 4
  initial_delay_ms: 500
  max_delay_ms: 10000
  multiplier: 3.0
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	qc := config.QueueConfig()
	if qc.MaxRetries != 2 || qc.FlushInterval != 5*time.Second {
		t.Errorf("queue config = %+v", qc)
	}

	opts := config.ServiceOptions()
	if opts.RetryAttempts != 4 {
		t.Errorf("RetryAttempts = %d, want 4", opts.RetryAttempts)
	}
	backoff, ok := opts.RetryBackoff.(*ExponentialBackoff)
	if !ok {
		t.Fatalf("RetryBackoff is %T", opts.RetryBackoff)
	}
	if backoff.InitialDelay != 500*time.Millisecond || backoff.MaxDelay != 10*time.Second || backoff.Multiplier != 3.0 {
		t.Errorf("backoff = %+v", backoff)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "queue: [not a mapping")
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"negative max retries", func(c *Config) { c.Queue.MaxRetries = -1 }, true},
		{"negative flush interval", func(c *Config) { c.Queue.FlushIntervalMs = -1 }, true},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -2 }, true},
		{"negative multiplier", func(c *Config) { c.Retry.Multiplier = -0.5 }, true},
		{"initial above max", func(c *Config) { c.Retry.InitialDelayMs = 60000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultServiceConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
