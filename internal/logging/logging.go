package logging

import (
	"os"

	"github.com/kataras/golog"
)

var logger = golog.New()

func init() {
	logger.SetOutput(os.Stdout)
	logger.SetLevel("info")
	logger.SetTimeFormat("2006-01-02 15:04:05.000")
}

// SetDebugMode switches between info and debug level.
func SetDebugMode(enabled bool) {
	if enabled {
		logger.SetLevel("debug")
	} else {
		logger.SetLevel("info")
	}
}

// Default returns the process logger, for components that want a child
// logger with their own prefix.
func Default() *golog.Logger {
	return logger
}

// Child returns a prefixed child logger, e.g. Child("ingest").
func Child(name string) *golog.Logger {
	return logger.Child(name)
}

func Debugf(format string, args ...interface{}) { logger.Debugf(format, args...) }

func Infof(format string, args ...interface{}) { logger.Infof(format, args...) }

func Warnf(format string, args ...interface{}) { logger.Warnf(format, args...) }

func Errorf(format string, args ...interface{}) { logger.Errorf(format, args...) }
