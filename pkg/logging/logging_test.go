package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input  string
		expect Level
	}{
		{input: "debug", expect: DebugLevel},
		{input: "DEBUG", expect: DebugLevel},
		{input: "info", expect: InfoLevel},
		{input: "warn", expect: WarnLevel},
		{input: "warning", expect: WarnLevel},
		{input: "error", expect: ErrorLevel},
		{input: "", expect: InfoLevel},
		{input: "nonsense", expect: InfoLevel},
	}

	for _, tt := range tests {
		t.Run("parses "+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expect, ParseLevel(tt.input))
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(WarnLevel, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	assert.Empty(t, buf.String())

	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.Contains(t, out, "[WARN] warn message")
	assert.Contains(t, out, "[ERROR] error message")
}

func TestFieldsInOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(DebugLevel, &buf)

	logger.Info("connected",
		String("host", "localhost"),
		Int("port", 2333),
		Bool("resumed", true),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "connected {")
	assert.Contains(t, out, "host=localhost")
	assert.Contains(t, out, "port=2333")
	assert.Contains(t, out, "resumed=true")
	assert.Contains(t, out, "took=1.5s")
	assert.Contains(t, out, "error=boom")
}

func TestWithPersistsFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithOutput(DebugLevel, &buf)
	scoped := base.With(String("guild", "1234"))

	scoped.Info("player created")
	assert.Contains(t, buf.String(), "guild=1234")

	// The parent logger is untouched.
	buf.Reset()
	base.Info("no scope")
	assert.NotContains(t, buf.String(), "guild=1234")
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	// Must not panic and must accept every call shape.
	logger.Debug("a")
	logger.Info("b", Int("x", 1))
	logger.Warn("c")
	logger.Error("d", Any("y", struct{}{}))
	logger.With(String("k", "v")).Info("scoped")
}
