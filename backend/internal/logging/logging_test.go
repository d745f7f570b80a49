package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safespeak/moderation-engine/backend/internal/logging"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithOutput("debug", "json", &buf)

	logger.WithField("organization", "acme").Debug("evaluated")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "evaluated", line["msg"])
	assert.Equal(t, "acme", line["organization"])
	assert.Contains(t, line, "time")
}

func TestNewWithOutput_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger := logging.NewWithOutput("chatty", "text", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
