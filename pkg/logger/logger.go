// Package logger provides the process-wide structured logger for bookrag.
// All packages log through the shared instance so output stays a single
// JSON stream regardless of which subsystem emits it.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var (
	// instance holds the global logger instance.
	// Using unexported variable to control access through methods.
	instance *slog.Logger
)

// InitError represents logger initialization errors.
type InitError struct {
	Op  string // the operation that failed
	Err error  // the underlying error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("logger: %s failed: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Init initializes the global logger with a production-style JSON handler
// at Info level.
func Init() error {
	return InitWithConfig(slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
}

// InitWithLevel initializes the global logger at a named level
// ("debug", "info", "warn", "error"). Unknown names fall back to Info.
func InitWithLevel(level string) error {
	return InitWithConfig(slog.HandlerOptions{
		Level: ParseLevel(level),
	})
}

// InitWithConfig initializes the logger with custom slog handler options.
// It allows for more flexible logger setup in different environments.
func InitWithConfig(opts slog.HandlerOptions) error {
	handler := slog.NewJSONHandler(os.Stdout, &opts)
	instance = slog.New(handler)
	return nil
}

// ParseLevel maps a configuration level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Get returns the global logger instance.
// It creates a default logger if none exists, following fail-safe pattern.
func Get() *slog.Logger {
	if instance == nil {
		// Fallback to default logger if not initialized
		_ = Init()
	}
	return instance
}

// MustGet returns the global logger instance or panics if not initialized.
// Use this only when logger initialization failure should terminate the program.
func MustGet() *slog.Logger {
	if instance == nil {
		panic("logger: not initialized, call Init() first")
	}
	return instance
}

// Sync flushes any buffered log entries if supported by handler.
// It's safe to call multiple times and handles nil logger gracefully.
func Sync() error {
	if instance == nil {
		return nil
	}

	// Support handlers that expose Sync/Close semantics.
	type syncer interface {
		Sync() error
	}
	if s, ok := instance.Handler().(syncer); ok {
		return s.Sync()
	}
	if c, ok := instance.Handler().(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// IsInitialized reports whether the logger has been initialized.
func IsInitialized() bool {
	return instance != nil
}
