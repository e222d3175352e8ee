package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLevel maps a textual level to slog, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case string(LogLevelDebug):
		return slog.LevelDebug
	case string(LogLevelWarn), "warning":
		return slog.LevelWarn
	case string(LogLevelError):
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a text logger on stdout with the specified level
func NewLogger(level LogLevel) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo creates a text logger writing to w
func NewLoggerTo(w io.Writer, level LogLevel) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(string(level)),
	})
	return slog.New(handler)
}

// SetupLogging configures the global slog handler based on log level.
// Call once at startup, before any component takes slog.Default().
func SetupLogging(logLevel string) {
	slog.SetDefault(NewLogger(LogLevel(logLevel)))
}

// OrDefault returns logger, or slog.Default() when logger is nil
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
