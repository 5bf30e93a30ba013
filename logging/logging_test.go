package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DoesNotPanic(t *testing.T) {
	jsonLog := New("info", false)
	jsonLog.Info().Msg("test json info")

	humanLog := New("debug", true)
	humanLog.Debug().Msg("test human debug")
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", false)

	log.Info().Msg("dropped")
	assert.Empty(t, buf.String())

	log.Warn().Str("store_id", "s1").Msg("kept")
	assert.Contains(t, buf.String(), `"store_id":"s1"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestNewWithWriter_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "chatty", false)

	log.Debug().Msg("dropped")
	assert.Empty(t, buf.String())
	log.Info().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewWithWriter_Human(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", true)
	log.Info().Str("mode", "freeze").Msg("batch upserted")

	out := buf.String()
	assert.Contains(t, out, "batch upserted")
	assert.NotContains(t, out, `"message"`)
}
