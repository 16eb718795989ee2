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
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")
	defer InitWithWriter(&buf, "INFO", "text")

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible warn")
	Error("visible error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
	assert.Contains(t, out, "visible error")
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("session opened", KeySession, 1234, KeyTransport, "socket")

	line := buf.String()
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "session opened")
	assert.Contains(t, line, "session=1234")
	assert.Contains(t, line, "transport=socket")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")
	defer SetFormat("text")

	Info("request done", KeyRequest, "GET", KeyStatus, "OK")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "request done", rec["msg"])
	assert.Equal(t, "GET", rec[KeyRequest])
	assert.Equal(t, "OK", rec[KeyStatus])
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("VERBOSE")
	assert.Equal(t, LevelInfo, CurrentLevel())

	SetLevel("debug")
	assert.Equal(t, LevelDebug, CurrentLevel())
	SetLevel("INFO")
}

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	l := With(KeySession, 77)
	l.Info("bound")
	assert.Contains(t, buf.String(), "session=77")
}
