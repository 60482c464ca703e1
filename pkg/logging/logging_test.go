package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)

	Debug("test", "debug message")
	Info("test", "info message")
	assert.Empty(t, buf.String())

	Warn("test", "warn message")
	assert.Contains(t, buf.String(), "warn message")
	assert.Contains(t, buf.String(), "subsystem=test")
}

func TestErrorAttribute(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Error("store", errors.New("disk full"), "save failed for %s", "example.com")
	out := buf.String()
	assert.Contains(t, out, "save failed for example.com")
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "subsystem=store")
}
