// Package logging provides structured logging configuration for killable-sudo.
//
// Logging Strategy:
// - Logs go to stderr; stdout belongs to the wrapped command
// - Text format by default since both roles run attached to a terminal
// - Source locations included for debugging (file:line)
// - The privileged role can mirror records into the systemd journal
//
// Usage:
//
//	logger := logging.SetupLogger(logging.Options{Level: "info"})
//	logger.Info("action description", "key", value, "component", "executor")
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options controls logger creation.
type Options struct {
	Level  string    // "debug", "info", "warn", "error"
	Format string    // "text" (default) or "json"
	Output io.Writer // defaults to os.Stderr

	// Journal mirrors every record to the systemd journal when the journal
	// socket is reachable. Ignored otherwise.
	Journal bool
}

// SetupLogger creates and configures a structured logger.
// Invalid levels default to "info". Setting DEBUG in the environment
// forces the debug level.
//
// The logger is also set as the default via slog.SetDefault.
func SetupLogger(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := parseLevel(opts.Level)
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten source paths by removing the module prefix
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					if idx := strings.Index(source.File, "internal/"); idx != -1 {
						source.File = source.File[idx:]
					} else {
						source.File = filepath.Base(source.File)
					}
					if idx := strings.Index(source.Function, "internal/"); idx != -1 {
						source.Function = source.Function[idx:]
					}
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	if opts.Journal && journalAvailable() {
		handler = newFanout(handler, NewJournalHandler(level))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger with a pre-set component attribute.
//
// Usage:
//
//	execLog := logging.WithComponent(logger, "executor")
//	execLog.Info("watching channel") // includes "component": "executor"
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
