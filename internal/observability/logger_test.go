package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies that parseLogLevel correctly parses log level
// strings from environment variables, handling case-insensitivity and whitespace.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"INFO", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		level := parseLogLevel(tt.env)
		if got := level.Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

// TestNewLogger verifies that NewLogger creates a valid logger instance
// that can be used for logging operations.
func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}

	logger.Info("test message")
	_ = logger.Sync() // best-effort; can fail on /dev/stderr in test env
}

// TestLoggerFrom verifies the context logger wins over the fallback and that
// a missing logger never yields nil.
func TestLoggerFrom(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	scoped := zap.New(core)
	fallback := zap.NewNop()

	ctx := WithLogger(context.Background(), scoped)
	LoggerFrom(ctx, fallback).Info("scoped")
	if logs.Len() != 1 {
		t.Fatalf("expected scoped logger to receive 1 entry, got %d", logs.Len())
	}

	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom without context logger should return fallback")
	}
	if got := LoggerFrom(context.Background(), nil); got == nil {
		t.Error("LoggerFrom with nil fallback should return a no-op logger")
	}
}

func TestCorrelationIDFrom(t *testing.T) {
	if got := CorrelationIDFrom(context.Background()); got != "" {
		t.Errorf("CorrelationIDFrom(empty) = %q, want empty", got)
	}
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationIDFrom(ctx); got != "abc-123" {
		t.Errorf("CorrelationIDFrom() = %q, want abc-123", got)
	}
}
