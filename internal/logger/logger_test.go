package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoWithFields_JSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	InitializeAndConfigure("debug", "json")
	defer InitializeAndConfigure("info", "text")
	assert.Contains(t, buf.String(), "Log level set to 'debug'")
	buf.Reset()

	InfoWithFields("task finished", map[string]interface{}{"host": "web1", "status": "changed"})

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "task finished", rec["msg"])
	assert.Equal(t, "web1", rec["host"])
	assert.Equal(t, "changed", rec["status"])
}

func TestConfigureLogLevel_Invalid(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	InitializeAndConfigure("loud", "text")
	assert.Contains(t, buf.String(), "Invalid log level 'loud'")

	buf.Reset()
	Debug("hidden")
	assert.Empty(t, buf.String())
}
