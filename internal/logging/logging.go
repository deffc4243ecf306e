// Package logging installs the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// Options configures Init.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Production selects JSON output; otherwise tint renders colored
	// console output.
	Production bool

	// Output receives the log records; the CLI passes stderr.
	Output io.Writer
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger for opts without installing it.
func New(opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)

	if opts.Production {
		return slog.New(slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{
			Level: level,
		}))
	}
	return slog.New(tint.NewHandler(opts.Output, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// Init builds a logger and makes it the slog default.
func Init(opts Options) *slog.Logger {
	logger := New(opts)
	slog.SetDefault(logger)
	return logger
}
