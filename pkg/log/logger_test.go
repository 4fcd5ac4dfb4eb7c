package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNormalizesLevel(t *testing.T) {
	assert.Equal(t, "debug", New("debug").GetLevel())
	assert.Equal(t, "info", New("bogus").GetLevel())
	assert.Equal(t, "info", New("").GetLevel())
}

func TestLoggerFormatsArguments(t *testing.T) {
	logger := New("trace")
	// every level accepts printf style arguments as well as plain messages
	logger.Error("failed after %d attempts: %v", 3, "timeout")
	logger.Warn("queue at %d%%", 80)
	logger.Info("case %s dispatched", "John Smith")
	logger.Debug("plain message")
	logger.Trace("value %v", []string{"a", "b"})
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "plain", format("plain"))
	assert.Equal(t, "100% done", format("100% done"))
	assert.Equal(t, "3 of 5", format("%d of %d", 3, 5))
}
