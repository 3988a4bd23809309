// Package gclog provides the leveled, structured logger shared by every
// gcore component. It wraps log/slog so subsystems can be constructed with
// a nil logger in tests without special-casing nil checks at every call
// site.
package gclog

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the handle every component takes as a constructor argument.
type Logger struct {
	*slog.Logger
}

// New builds a text-handler logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(h)}
}

// Default returns an info-level logger writing to stderr.
func Default() *Logger {
	return New(os.Stderr, slog.LevelInfo)
}

// Discard returns a logger that drops everything; used by tests and by
// components built without an explicit logger.
func Discard() *Logger {
	return New(io.Discard, slog.LevelError)
}

// With mirrors slog.Logger.With but keeps the *Logger wrapper type so
// callers can keep chaining gclog-typed loggers through constructors.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return Discard()
	}
	return &Logger{Logger: l.Logger.With(args...)}
}
