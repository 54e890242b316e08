package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestHelpersWriteToGlobalLogger(t *testing.T) {
	buf := captureGlobal(t)

	Info().Str("wallet", "abc").Msg("Wallet funded")
	Warn().Msg("ADMIN_TOKEN is empty")
	Error().Msg("Server forced to shutdown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"level":"info"`)
	assert.Contains(t, lines[0], `"wallet":"abc"`)
	assert.Contains(t, lines[1], `"level":"warn"`)
	assert.Contains(t, lines[2], `"level":"error"`)
}

func TestComponentTagsEvents(t *testing.T) {
	buf := captureGlobal(t)

	l := Component("reveal_worker")
	l.Info().Msg("Starting reveal worker...")
	assert.Contains(t, buf.String(), `"component":"reveal_worker"`)
	assert.Contains(t, buf.String(), "Starting reveal worker...")
}
