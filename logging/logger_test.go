package logging

import (
	"context"
	"errors"
	"os"
	"testing"

	caresyncErrors "github.com/telecare/caresync/errors"
)

func TestNewLogger_LevelParsing(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"},
		{"info"},
		{"warn"},
		{"error"},
		{"bogus"}, // falls back to info
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(Config{Level: tt.level, Format: "text"})
			if logger == nil || logger.Logger == nil {
				t.Fatal("expected a usable logger")
			}
		})
	}
}

func TestGetConfigFromEnv(t *testing.T) {
	os.Setenv("LOG_LEVEL", "DEBUG")
	os.Setenv("LOG_FORMAT", "TEXT")
	os.Setenv("ENVIRONMENT", "test")
	defer func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("LOG_FORMAT")
		os.Unsetenv("ENVIRONMENT")
	}()

	config := GetConfigFromEnv()
	if config.Level != "debug" {
		t.Errorf("Level = %q, want debug", config.Level)
	}
	if config.Format != "text" {
		t.Errorf("Format = %q, want text", config.Format)
	}
	if config.Environment != EnvTest {
		t.Errorf("Environment = %q, want %q", config.Environment, EnvTest)
	}
}

func TestWithComponentAndOperation(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text"})

	child := logger.WithComponent(Component("queue")).WithOperation(Operation("flush"))
	if child == nil {
		t.Fatal("expected child logger")
	}
	// Must not panic when used
	child.Info("flush pass complete")
}

func TestLogError_WithSyncError(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text"})

	syncErr := caresyncErrors.NewNetworkError(caresyncErrors.OpFlush, errors.New("connection reset"))
	logger.LogError(context.Background(), syncErr, "flush failed")

	// Plain errors take the fallback path
	logger.LogError(context.Background(), errors.New("plain"), "something failed")
}

func TestLogOperation(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text"})

	err := logger.LogOperation(context.Background(), Operation("test-op"), Component("test"), func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	wantErr := errors.New("op failed")
	err = logger.LogOperation(context.Background(), Operation("test-op"), Component("test"), func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the operation error back, got %v", err)
	}
}
