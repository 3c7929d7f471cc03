// Package logging provides the operational logger used throughout
// squeal: structured, leveled logging via log/slog, independent of
// whatever the caller's own application logger looks like.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	opLogger.Store(slog.New(handler))
}

// Op returns the package-wide operational logger.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLogger replaces the operational logger, e.g. to attach it to a
// caller's own handler (JSON, a different sink, extra fields).
func SetLogger(l *slog.Logger) {
	opLogger.Store(l)
}

// SetLevel changes the minimum level the operational logger emits.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the level from one of "debug", "info", "warn",
// "error" (case-insensitive); unrecognized values are ignored.
func SetLevelFromString(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "info":
		logLevel.Set(slog.LevelInfo)
	case "warn", "warning":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	}
}
