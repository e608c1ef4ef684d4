package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogging(t *testing.T) {
	original := isTerminalFn
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		isTerminalFn = original
	})
}

func TestInitJSON(t *testing.T) {
	resetLogging(t)
	var buf bytes.Buffer

	Init(Config{Format: "json", Level: "debug", Output: &buf})
	log.Debug().Str("component", "test").Msg("hello")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "debug", event["level"])
	assert.Equal(t, "test", event["component"])
	assert.Equal(t, "hello", event["message"])
	assert.Contains(t, event, "time")
}

func TestLevelFiltering(t *testing.T) {
	resetLogging(t)
	var buf bytes.Buffer

	Init(Config{Format: "json", Level: "warn", Output: &buf})
	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("loud"))
}

func TestSelectWriter(t *testing.T) {
	resetLogging(t)
	var buf bytes.Buffer

	assert.IsType(t, zerolog.ConsoleWriter{}, selectWriter("console", &buf))
	assert.Equal(t, &buf, selectWriter("json", &buf))
	assert.Equal(t, &buf, selectWriter("auto", &buf), "non-file output is never a terminal")

	isTerminalFn = func(int) bool { return true }
	assert.IsType(t, zerolog.ConsoleWriter{}, selectWriter("auto", os.Stderr))
	isTerminalFn = func(int) bool { return false }
	assert.Equal(t, os.Stderr, selectWriter("auto", os.Stderr))
}
