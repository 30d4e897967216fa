package log

import (
	"log/slog"
	"sync/atomic"
)

var root atomic.Value

func init() {
	root.Store(NewLogger(DiscardHandler()))
}

// SetDefault sets the default global logger.
func SetDefault(l Logger) {
	root.Store(l)
	if lg, ok := l.(*logger); ok {
		slog.SetDefault(lg.inner)
	}
}

// Root returns the root logger.
func Root() Logger {
	return root.Load().(Logger)
}

// Debug logs a message at the debug level on the root logger.
func Debug(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// Info logs a message at the info level on the root logger.
func Info(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelInfo, module, msg, ctx...)
}

// Warn logs a message at the warn level on the root logger.
func Warn(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelWarn, module, msg, ctx...)
}

// Error logs a message at the error level on the root logger.
func Error(module string, msg string, ctx ...any) {
	Root().Write(slog.LevelError, module, msg, ctx...)
}

// New returns a child of the root logger carrying ctx.
func New(ctx ...any) Logger {
	return Root().With(ctx...)
}
