// Package log defines the structured logging contract shared by every
// component in the orchestrator. Components depend on the Logger interface
// only; the concrete backend is chosen at the composition root.
package log

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Logger is the structured logging interface used throughout the module.
type Logger interface {
	Log(ctx context.Context, level Level, msg string, fields ...Field)
	With(fields ...Field) Logger
	Enabled(level Level) bool
	Sync(ctx context.Context) error
}

// Level represents the severity of a log entry. Lower numeric values are more
// severe: a logger configured at LevelInfo emits Error, Warn and Info entries
// and suppresses Debug.
type Level uint8

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the lowercase name of the level.
func (level Level) String() string {
	switch level {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name into a Level constant.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}

	return LevelError, fmt.Errorf("not a valid log level: %q", name)
}

// Field is a strongly-typed key/value attribute attached to a log event.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates the conventional `error` field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with an arbitrary value. Prefer the typed constructors
// so sensitive values are not logged by accident.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}
