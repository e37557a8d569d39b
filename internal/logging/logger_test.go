package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatJSON)
	logger.SetOutput(&buf)

	logger.Named("agent").WithFields(map[string]interface{}{
		"user_id": "u1",
		"aqi":     20,
	}).Info("submission verified")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "agent", entry.Component)
	assert.Equal(t, "submission verified", entry.Message)
	assert.Equal(t, "u1", entry.Fields["user_id"])
	assert.Equal(t, float64(20), entry.Fields["aqi"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn, FormatText)
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warn: shown")
}

func TestLogger_ChildDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(LevelInfo, FormatText)
	parent.SetOutput(&buf)

	_ = parent.WithField("request_id", "abc")
	parent.Info("plain")

	assert.NotContains(t, buf.String(), "request_id")
}

func TestLogger_ErrorIncludesCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatText)
	logger.SetOutput(&buf)

	logger.ErrorWithErr("commit failed", assert.AnError)

	out := buf.String()
	assert.Contains(t, out, "commit failed")
	assert.Contains(t, out, "caller=")
	assert.True(t, strings.Contains(out, assert.AnError.Error()))
}

func TestFromContext(t *testing.T) {
	logger := NewLogger(LevelDebug, FormatJSON).WithField("k", "v")
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LevelInfo, ParseLogLevel("verbose"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}
