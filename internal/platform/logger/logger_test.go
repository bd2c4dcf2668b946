package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"  info  ", slog.LevelInfo},
		{"verbose", slog.LevelInfo}, // 不明な値はInfoに落ちる
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.level, ParseLevel(tt.name), "level %q", tt.name)
	}
}

func TestNewHandlerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, Config{Level: "info", Format: "json"}))

	logger.Info("ingest completed", "chunks", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ingest completed", record["msg"])
	assert.Equal(t, float64(3), record["chunks"])
}

func TestNewHandlerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, Config{Level: "info", Format: "text"}))

	logger.Info("search completed")

	assert.Contains(t, buf.String(), "msg=")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewHandlerFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, Config{Level: "warn", Format: "json"}))

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
