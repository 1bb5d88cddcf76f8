// Package logging wires the process-wide slog logger and keeps the small
// printf-style helpers used by the CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
)

// Options controls the handler built by New.
type Options struct {
	Verbose bool
	JSON    bool
	NoColor bool
}

// New returns a logger writing to w. Console output goes through tint;
// JSON output is meant for piping into other tools.
func New(w io.Writer, opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    opts.NoColor,
	}))
}

var disabled atomic.Bool

// Setup installs a stderr logger as the slog default and returns it.
func Setup(opts Options) *slog.Logger {
	l := New(os.Stderr, opts)
	SetDefault(l)
	return l
}

// SetDefault makes l the logger behind slog and the helpers below.
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// Disable turns off the printf-style helpers. Loggers obtained from
// slog directly are unaffected.
func Disable() {
	disabled.Store(true)
}

// Enable turns the helpers back on
func Enable() {
	disabled.Store(false)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled.Load() {
		slog.Info(fmt.Sprintf(format, v...))
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled.Load() {
		slog.Error(fmt.Sprintf(format, v...))
	}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled.Load() {
		slog.Warn(fmt.Sprintf(format, v...))
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	if !disabled.Load() {
		slog.Debug(fmt.Sprintf(format, v...))
	}
}
