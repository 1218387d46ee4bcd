package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf := new(bytes.Buffer)
		InitWithWriter(buf, "DEBUG", "text")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("WarnLevelFiltersDebugAndInfo", func(t *testing.T) {
		buf := new(bytes.Buffer)
		InitWithWriter(buf, "WARN", "text")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})
}

func TestJSONFormat(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "INFO", "json")

	Info("client joined", "client", "alice", "connections", 4)

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))

	assert.Equal(t, "client joined", record["msg"])
	assert.Equal(t, "alice", record["client"])
	assert.Equal(t, float64(4), record["connections"])
}

func TestTextFormatCarriesAttrs(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "INFO", "text")

	Info("group created", "group", "devs")

	out := buf.String()
	assert.Contains(t, out, "group created")
	assert.Contains(t, out, "devs")
}

func TestWithAttachesContext(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "INFO", "json")

	l := With("component", "relay")
	l.Info("started")

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record))
	assert.Equal(t, "relay", record["component"])
}

func TestSetLevelIsCaseInsensitive(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "INFO", "text")

	SetLevel("debug")
	Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}
