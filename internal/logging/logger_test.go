package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesServiceAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "drivuber-api", "info")
	logger.Info("sign in", "client_id", "c1", "access_token", "eyJhbGci", "Authorization", "Bearer x")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "drivuber-api", line["service"])
	assert.Equal(t, "c1", line["client_id"])
	assert.Equal(t, redacted, line["access_token"])
	assert.Equal(t, redacted, line["Authorization"])
	assert.Contains(t, line, "source")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "", "warn")
	logger.Info("dropped")
	assert.Zero(t, buf.Len())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), `"service"`)
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFromString(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, levelFromString("warning"))
	assert.Equal(t, slog.LevelError, levelFromString("error"))
	assert.Equal(t, slog.LevelInfo, levelFromString("chatty"))
}
