package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupVerboseWinsOverLevel(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	require.NoError(t, Setup(logger, true, "error", ""))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestSetupParsesLevel(t *testing.T) {
	logger := logrus.New()

	require.NoError(t, Setup(logger, false, "info", ""))
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestSetupKeepsLevelOnBadInput(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	require.NoError(t, Setup(logger, false, "chatty", ""))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}

func TestSetupLogsToFile(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "emitter.log")
	logger := logrus.New()

	require.NoError(t, Setup(logger, false, "info", fileName))
	logger.Info("hello file")

	data, err := os.ReadFile(fileName)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}

func TestLeveledLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	l := NewLeveledLogger(logger)
	l.Debug("retrying request", "remaining", 2, "dangling")

	out := buf.String()
	assert.Contains(t, out, "retrying request")
	assert.Contains(t, out, "remaining=2")
	assert.Contains(t, out, "dangling")
}
