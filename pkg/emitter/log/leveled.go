package log

import (
	"fmt"

	logrus "github.com/sirupsen/logrus"
)

// LeveledLogger adapts a logrus logger to the key/value leveled logger
// interface used by go-retryablehttp.
type LeveledLogger struct {
	logger *logrus.Logger
}

func NewLeveledLogger(logger *logrus.Logger) *LeveledLogger {
	return &LeveledLogger{logger}
}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Error(msg)
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Info(msg)
}

func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Debug(msg)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry(keysAndValues).Warn(msg)
}

func (l *LeveledLogger) entry(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}

	// dangling key with no value
	if len(keysAndValues)%2 == 1 {
		fields[fmt.Sprint(keysAndValues[len(keysAndValues)-1])] = nil
	}

	return l.logger.WithFields(fields)
}
