package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TimelordUK/logdata/internal/config"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&config.LogConfig{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "path", "/var/log/app.log")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "path=/var/log/app.log")
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&config.LogConfig{Level: "chatty"}, &buf)

	logger.Debug("debug line")
	logger.Info("info line")

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}

func TestOrNull(t *testing.T) {
	assert.NotNil(t, OrNull(nil))
}
