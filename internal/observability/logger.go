package observability

import (
	"log/slog"
	"os"
)

// Logger is the process-wide logger instance.
var Logger *slog.Logger

// InitLogger installs the global logger. Production gets JSON output,
// development gets text.
func InitLogger(production bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if production {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func logger() *slog.Logger {
	if Logger == nil {
		InitLogger(false)
	}
	return Logger
}

// Info logs an info message.
func Info(msg string, args ...any) { logger().Info(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { logger().Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { logger().Error(msg, args...) }

// WithProvider returns a logger with the provider name attached.
func WithProvider(name string) *slog.Logger {
	return logger().With("provider", name)
}
