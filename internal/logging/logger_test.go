package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesComponentAndPairs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithHandler("processor", slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.With("jobId", "j-1").Info("scan complete", "format", "TD3")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "processor", entry["component"])
	assert.Equal(t, "j-1", entry["jobId"])
	assert.Equal(t, "TD3", entry["format"])
	assert.Equal(t, "scan complete", entry["msg"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithHandler("queue", slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestConfigure(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "debug", "json")
	t.Cleanup(func() { Configure(os.Stdout, "info", "text") })

	NewLogger("cli").Debug("configured")
	assert.Contains(t, buf.String(), `"component":"cli"`)
}
