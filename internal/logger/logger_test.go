package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Init("debug", "json"))
	L().SetOutput(&buf)
	t.Cleanup(func() {
		L().SetOutput(os.Stdout)
		L().SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return &buf
}

func TestDebugWritesActionFields(t *testing.T) {
	buf := captureJSON(t)

	Debug("0xabc", "bet_placed", "scenario_id=1 amount=100")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "bet_placed", line["action"])
	assert.Equal(t, "0xabc", line["actor"])
	assert.Equal(t, "scenario_id=1 amount=100", line["details"])
	assert.Equal(t, "debug", line["level"])
}

func TestErrorIncludesError(t *testing.T) {
	buf := captureJSON(t)

	Error("", "claim_failed", errors.New("boom"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])
	assert.NotContains(t, line, "actor")
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("loud", "text"))
}
