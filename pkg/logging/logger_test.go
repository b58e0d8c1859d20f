package logging

import (
	"bytes"
	"context"
	"dlob_engine/pkg/telemetry"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	tel, err := telemetry.Setup("test-logger")
	require.NoError(t, err)
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := NewZapLogger("DEBUG")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		logger.Info("Test OTel bridging", "key", "value")
		logger.Debug("Debug message", "status", "testing")
	})
	_ = logger.Sync()
}

func TestZapLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger("info", WithJSON(), WithOutput(&buf), WithoutOTel())
	require.NoError(t, err)

	logger.WithField("component", "dlob_subscriber").
		WithFields(map[string]interface{}{"market": "perp-0"}).
		Warn("Refresh failed", "error", errors.New("boom"), "slot", 42)
	logger.Debug("filtered out")
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Refresh failed", entry["msg"])
	assert.Equal(t, "dlob_subscriber", entry["component"])
	assert.Equal(t, "perp-0", entry["market"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, float64(42), entry["slot"])
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger("TRACE")
	assert.Error(t, err)
}
