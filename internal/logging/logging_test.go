package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		verbosity int
		expected  zerolog.Level
	}{
		{-1, zerolog.WarnLevel},
		{0, zerolog.WarnLevel},
		{1, zerolog.InfoLevel},
		{2, zerolog.DebugLevel},
		{3, zerolog.TraceLevel},
		{9, zerolog.TraceLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevelFor(tt.verbosity), "verbosity %d", tt.verbosity)
	}
}

func TestGetLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	saved := log.Logger
	savedLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = saved
		zerolog.SetGlobalLevel(savedLevel)
	})

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(&buf)

	logger := GetLogger("isolate")
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"isolate"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}
