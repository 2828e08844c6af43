package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestInitAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	log := Component("forecast")
	log.Info().Int("days", 15).Msg("forecast complete")

	out := buf.String()
	assert.Contains(t, out, `"component":"forecast"`)
	assert.Contains(t, out, `"days":15`)
	assert.Contains(t, out, "forecast complete")
}

func TestBadgerLogger(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	bl := NewBadgerLogger(NewTestLogger(&buf))
	bl.Warningf("value log %d rewritten\n", 3)
	bl.Infof("compaction done\n")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], `"level":"warn"`)
		assert.Contains(t, lines[0], `"message":"value log 3 rewritten"`)
		assert.Contains(t, lines[1], `"level":"debug"`)
		assert.Contains(t, lines[1], `"component":"badger"`)
	}
}
