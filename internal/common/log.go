// Package common holds process-wide plumbing shared by every command:
// the logger singleton.
package common

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// Logger returns a singleton slog logger writing to stderr. The level
// comes from the FORMDB_LOG environment variable (debug, info, warn,
// error) and defaults to warn so normal command output stays clean.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		level := slog.LevelWarn

		switch strings.ToLower(os.Getenv("FORMDB_LOG")) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	})

	return logger
}
