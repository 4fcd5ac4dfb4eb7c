package log

import (
	"fmt"

	"github.com/microlib/simple"
)

// PluggableLoggerInterface - the agent wide logging contract.
// All components log through this so the backing implementation
// can be swapped without touching call sites.
type PluggableLoggerInterface interface {
	Error(msg string, val ...interface{})
	Warn(msg string, val ...interface{})
	Info(msg string, val ...interface{})
	Debug(msg string, val ...interface{})
	Trace(msg string, val ...interface{})
	GetLevel() string
}

type pluggableLogger struct {
	level  string
	logger *simple.Logger
}

func New(level string) PluggableLoggerInterface {
	switch level {
	case "info", "debug", "trace", "error":
	default:
		level = "info"
	}
	return &pluggableLogger{level: level, logger: &simple.Logger{Level: level}}
}

// the simple.Logger methods take a single preformatted message
func (l *pluggableLogger) Error(msg string, val ...interface{}) {
	l.logger.Error(format(msg, val...))
}

func (l *pluggableLogger) Warn(msg string, val ...interface{}) {
	l.logger.Warn(format(msg, val...))
}

func (l *pluggableLogger) Info(msg string, val ...interface{}) {
	l.logger.Info(format(msg, val...))
}

func (l *pluggableLogger) Debug(msg string, val ...interface{}) {
	l.logger.Debug(format(msg, val...))
}

func (l *pluggableLogger) Trace(msg string, val ...interface{}) {
	l.logger.Trace(format(msg, val...))
}

func format(msg string, val ...interface{}) string {
	if len(val) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, val...)
}

func (l *pluggableLogger) GetLevel() string {
	return l.level
}
