package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger_JSONWithSessionFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithSession("s-1").WithFields(slog.String("op", "add_column")).Info("command applied")
	logger.Debug("hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "command applied", record["msg"])
	assert.Equal(t, "s-1", record["session_id"])
	assert.Equal(t, "add_column", record["op"])
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx))
	assert.Equal(t, "", GetRequestID(ctx))

	logger := Discard()
	ctx = WithLogger(ctx, logger)
	ctx = WithRequestIDContext(ctx, "req-9")
	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "req-9", GetRequestID(ctx))
}

func TestFanout_RespectsEachLevel(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	logger := slog.New(h).With(slog.String("component", "sessions"))

	logger.Debug("sweep started")
	logger.Warn("store at capacity")

	assert.Contains(t, debugBuf.String(), "sweep started")
	assert.Contains(t, debugBuf.String(), "component=sessions")
	assert.NotContains(t, warnBuf.String(), "sweep started")
	assert.Contains(t, warnBuf.String(), "store at capacity")
	assert.False(t, fanout{slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelError})}.Enabled(context.Background(), slog.LevelInfo))
}
