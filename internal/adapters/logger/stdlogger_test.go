package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"orbBot/internal/ports"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" Warn ":  LevelWarn,
		"error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestStdLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelWarn)
	ctx := context.Background()

	l.Debug(ctx, "debug line")
	l.Info(ctx, "info line")
	l.Warn(ctx, "warn line")
	l.Error(ctx, errors.New("boom"), "error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
	assert.Contains(t, out, "[ERROR] error line | error: boom")
}

func TestStdLogger_FieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelDebug)

	l.Info(context.Background(), "Breakout confirmed",
		ports.Fields{"symbol": "AAPL", "price": "101.5"},
		ports.Fields{"high": "100", "price": "102"},
	)

	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasSuffix(line, "[INFO] Breakout confirmed | high=100 price=102 symbol=AAPL"), line)
}

func TestStdLogger_NoFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LevelDebug)
	l.Info(context.Background(), "plain", nil)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), "[INFO] plain"))
}
