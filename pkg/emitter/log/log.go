package log

import (
	"encoding/json"
	"os"

	logrus "github.com/sirupsen/logrus"
)

var RootLogger = logrus.New()

func init() {
	RootLogger.SetLevel(logrus.WarnLevel)
	RootLogger.SetOutput(os.Stderr)
}

func Debugf(format string, args ...interface{}) {
	RootLogger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	RootLogger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	RootLogger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	RootLogger.Errorf(format, args...)
}

func Fatalf(err error) {
	RootLogger.Fatalf("FATAL: can't continue: %v", err)
	os.Exit(1)
}

// EnableDebug switches the root logger to debug level. Diagnostic output
// of send attempts and payloads is only produced at this level.
func EnableDebug() {
	RootLogger.SetLevel(logrus.DebugLevel)
}

func IsDebugEnabled() bool {
	return RootLogger.GetLevel() == logrus.DebugLevel
}

func PrettyPrintJson(val any) error {
	enc := json.NewEncoder(RootLogger.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}

// Setup applies the log settings of a loaded configuration. A verbose run
// always logs at debug level regardless of level.
func Setup(logger *logrus.Logger, verbose bool, level, fileName string) error {
	if fileName != "" {
		file, err := os.OpenFile(
			fileName,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0666,
		)
		if err != nil {
			Warnf("failed to log to file, using default stderr: %s", err)
		} else {
			logger.Out = file
		}
	}

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return nil
	}

	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			Warnf("failed to parse log level, default will be used: %s", err)
		} else {
			logger.SetLevel(lvl)
		}
	}

	return nil
}
