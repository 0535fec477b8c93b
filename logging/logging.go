// Package logging configures colored structured logging with tint.
//
// Usage:
//
//	logger := logging.Setup("info", os.Stderr) // also installed as slog default
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Setup builds a tint logger writing to w at the named level, installs it as
// the slog default and returns it. Colors are only used when w is a terminal.
func Setup(level string, w io.Writer) *slog.Logger {
	logger := New(ParseLevel(level), w)
	slog.SetDefault(logger)
	return logger
}

// New builds a tint logger without touching the slog default.
func New(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  level == slog.LevelDebug,
		NoColor:    !isTerminal(w),
	}))
}

// ParseLevel maps debug, info, warn and error onto slog levels (default: info).
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
