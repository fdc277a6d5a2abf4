package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Output: &buf}).With("component", "test")

	logger.Debug("hidden")
	logger.Error(errors.New("boom"), "booking failed", "op", "book")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "booking failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "book", entry["op"])
	assert.Equal(t, "test", entry["component"])
}

func TestLoggerLevels(t *testing.T) {
	logger := New(Config{Level: "warn"})
	assert.True(t, logger.Enabled(zerolog.ErrorLevel))
	assert.False(t, logger.Enabled(zerolog.InfoLevel))

	Nop().Info("discarded", "k", "v")
}
