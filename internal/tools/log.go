package tools

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SetupLogging sends everything the standard logrus logger records to
// stdout and to logFile, as JSON. The returned closer releases the file; it
// is nil when the file could not be opened and logging falls back to stdout.
func SetupLogging(level, logFile string) (*log.Logger, io.Closer, error) {
	logger := log.StandardLogger()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetLevel(ParseLevel(level))

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logger.SetOutput(os.Stdout)
		return logger, nil, fmt.Errorf("error opening log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(file, os.Stdout))

	// Anything still using the standard library logger ends up here too.
	stdlog.SetOutput(logger.WriterLevel(log.InfoLevel))
	stdlog.SetFlags(0)
	return logger, file, nil
}

// ParseLevel maps the LOG_LEVEL values used across the service, defaulting
// to info.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
