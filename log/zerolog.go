package log

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger implements Logger on top of zerolog.
type ZeroLogger struct {
	logger zerolog.Logger
	level  Level
}

// NewZeroLogger creates a zerolog-backed Logger writing JSON lines to w.
func NewZeroLogger(w io.Writer, level Level) *ZeroLogger {
	logger := zerolog.New(w).With().Timestamp().Logger()

	return &ZeroLogger{logger: logger, level: level}
}

// Log emits one structured log event if the level is enabled.
func (zl *ZeroLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if zl == nil || !zl.Enabled(level) {
		return
	}

	event := zl.event(level)
	if event == nil {
		return
	}

	for _, field := range sanitizeFields(fields) {
		event = appendField(event, field)
	}

	event.Msg(Sanitize(msg))
}

// With returns a logger that attaches the given fields to every event.
//
//nolint:ireturn
func (zl *ZeroLogger) With(fields ...Field) Logger {
	if zl == nil {
		return NewNop()
	}

	builder := zl.logger.With()
	for _, field := range sanitizeFields(fields) {
		builder = builder.Interface(field.Key, field.Value)
	}

	return &ZeroLogger{logger: builder.Logger(), level: zl.level}
}

// Enabled reports whether entries at the given level are emitted.
func (zl *ZeroLogger) Enabled(level Level) bool {
	if zl == nil {
		return false
	}

	return zl.level >= level
}

// Sync is a no-op: zerolog writes are unbuffered.
func (zl *ZeroLogger) Sync(_ context.Context) error { return nil }

func (zl *ZeroLogger) event(level Level) *zerolog.Event {
	switch level {
	case LevelError:
		return zl.logger.Error()
	case LevelWarn:
		return zl.logger.Warn()
	case LevelInfo:
		return zl.logger.Info()
	case LevelDebug:
		return zl.logger.Debug()
	default:
		return nil
	}
}

func appendField(event *zerolog.Event, field Field) *zerolog.Event {
	switch value := field.Value.(type) {
	case string:
		return event.Str(field.Key, value)
	case int:
		return event.Int(field.Key, value)
	case bool:
		return event.Bool(field.Key, value)
	case time.Duration:
		return event.Dur(field.Key, value)
	case error:
		if field.Key == "error" {
			return event.Err(value)
		}

		return event.AnErr(field.Key, value)
	default:
		return event.Interface(field.Key, value)
	}
}
