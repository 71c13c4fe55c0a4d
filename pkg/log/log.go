package log

import (
	"io"
	"log/slog"
	"strings"
)

var (
	DefaultLogger = slog.Default()
)

// New returns a logger writing text records at the given level to w.
// Unknown levels fall back to info.
func New(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// SetDefault replaces the logger used by the package level functions.
func SetDefault(l *slog.Logger) {
	DefaultLogger = l
	slog.SetDefault(l)
}

func Debug(msg string, keysAndValues ...any) {
	DefaultLogger.Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	DefaultLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	DefaultLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	DefaultLogger.Error(msg, keysAndValues...)
}
