// Package logging builds the process-wide structured logger used by every
// learning-engine component. A *log.Logger is constructed once at startup and
// passed down by reference; no component reaches for a package-level global.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// New builds a leveled logger writing to stderr. level is one of
// "debug", "info", "warn", "error"; anything else defaults to info.
func New(level string) *log.Logger {
	logger := log.New(os.Stderr)
	logger.SetReportTimestamp(true)

	switch level {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	return logger
}

// Nop returns a logger with output discarded, for tests that don't want
// component log noise but still need a non-nil *log.Logger.
func Nop() *log.Logger {
	logger := log.New(os.Stderr)
	logger.SetLevel(log.FatalLevel + 1)
	return logger
}
