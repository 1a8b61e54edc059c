package main

import (
	"log/slog"
	"os"
	"strings"
)

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug",
	}

	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}

// slogAdapter bridges an slog.Logger into the session's logging interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Printf(format string, v ...any) {
	a.l.Info(sprintf(format, v...))
}

func (a *slogAdapter) Errorf(format string, v ...any) {
	a.l.Error(sprintf(format, v...))
}

func (a *slogAdapter) Debugf(format string, v ...any) {
	a.l.Debug(sprintf(format, v...))
}
