package logging

import (
	"bytes"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(Config{Level: "debug", Format: FormatJSON}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := Component("eventbus")
	logger.Info().Str("topic", "user.created").Msg("emitted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "eventbus", entry["component"])
	assert.Equal(t, "user.created", entry["topic"])
	assert.Equal(t, "info", entry["level"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(Config{Level: "chatty"}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	logger := Component("x")
	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}

func TestVerboseLowersLevelToDebug(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(Config{Level: "warn", Verbose: true}, &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
