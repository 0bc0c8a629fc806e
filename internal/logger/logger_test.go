package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONWithServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Environment: "production", ServiceName: "spend-approvals", Version: "1.2.3", Output: &buf})

	log.Info().Str("request_id", "r1").Msg("Request submitted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "spend-approvals", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "r1", entry["request_id"])
	assert.Equal(t, "Request submitted", entry["message"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Environment: "production", Output: &buf})

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
}
