package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesServiceAndTraceID(t *testing.T) {
	var buf bytes.Buffer
	traceIDFn := func(context.Context) string { return "abc123" }

	log := NewWithMetadata(&buf, LevelInfo, "clusterpost", traceIDFn, Events{}, map[string]string{"hostname": "h1", "pod": ""})
	log.Info(context.Background(), "job submitted", "job_id", "j1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "job submitted", rec["msg"])
	assert.Equal(t, "clusterpost", rec["service"])
	assert.Equal(t, "h1", rec["hostname"])
	assert.Equal(t, "abc123", rec["trace_id"])
	assert.Equal(t, "j1", rec["job_id"])
	assert.NotContains(t, rec, "pod")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "test", nil)

	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerErrorEvent(t *testing.T) {
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}

	var buf bytes.Buffer
	log := NewWithEvents(&buf, LevelDebug, "test", nil, events)
	log.Error(context.Background(), "dispatch failed", "job_id", "j2")

	assert.Equal(t, "dispatch failed", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.Equal(t, "j2", got.Attributes["job_id"])
}

func TestLoggerContextAdd(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelDebug, "test", nil).With("component", "lifecycle"))
	lc.Add("job_id", "j3")
	lc.Info(context.Background(), "status queried")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "lifecycle", rec["component"])
	assert.Equal(t, "j3", rec["job_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}
