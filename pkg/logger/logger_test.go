package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Init("debug", "json", "")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Init("bogus", "console", "")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInitFile(t *testing.T) {
	previous := log.Logger
	defer func() { log.Logger = previous }()

	path := filepath.Join(t.TempDir(), "gateway.log")
	Init("info", "json", path)

	l := Get()
	l.Info().Str("component", "test").Msg("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "written to file")
}
