package logging

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	SetupWriter(&buf, false, "warn")

	log.Info().Msg("hidden")
	log.Warn().Str("job", "table:drivers").Msg("visible")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "table:drivers", entry["job"])
	assert.Equal(t, "warn", entry["level"])
}

func TestSetupWriter_UnknownLevelFallsBackToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	SetupWriter(&buf, false, "verbose")

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestSetupWriter_Console(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	SetupWriter(&buf, true, "debug")
	log.Debug().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
