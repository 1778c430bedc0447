package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewWritesTaggedJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := New(Options{Service: "craftcurio-api", Env: "test", Level: "warn", Output: &buf})

	l.Info("dropped")
	l.Warn("kept", slog.String("order_id", "ord-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "craftcurio-api", line["service"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, "ord-1", line["order_id"])
}

func TestNewTextFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := New(Options{Service: "craftcurio-migrate", Env: "dev", Format: "TEXT", Output: &buf})
	l.Info("applied", slog.Int("count", 2))

	out := buf.String()
	assert.Contains(t, out, "service=craftcurio-migrate")
	assert.Contains(t, out, "msg=applied")
	assert.Contains(t, out, "count=2")
}
