// Package logger provides structured, leveled logging built on zerolog.
package logger

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

// Level is a logging severity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LoggerInterface is the contract every component depends on, so call sites
// can be handed a no-op or test logger without depending on zerolog directly.
type LoggerInterface interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
	With(kv ...any) LoggerInterface
}

// Option configures a Logger at construction time.
type Option func(*zerolog.Context)

// WithField adds a static key/value pair to every event emitted by the logger.
func WithField(key string, value any) Option {
	return func(c *zerolog.Context) {
		*c = c.Interface(key, value)
	}
}

// Logger is a zerolog-backed implementation of LoggerInterface.
type Logger struct {
	z zerolog.Logger
}

var _ LoggerInterface = (*Logger)(nil)

// New creates a Logger writing to w at the given level, tagged with name.
func New(w io.Writer, level Level, name string, opts ...Option) *Logger {
	ctx := zerolog.New(w).With().Timestamp().Str("service", name)
	for _, opt := range opts {
		if opt != nil {
			opt(&ctx)
		}
	}
	z := ctx.Logger().Level(level.zerologLevel())
	return &Logger{z: z}
}

func (l *Logger) event(ctx context.Context, lvl zerolog.Level, msg string, kv []any) {
	e := l.z.WithLevel(lvl)
	if traceID := traceIDFromContext(ctx); traceID != "" {
		e = e.Str("trace_id", traceID)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) { l.event(ctx, zerolog.DebugLevel, msg, kv) }
func (l *Logger) Info(ctx context.Context, msg string, kv ...any)  { l.event(ctx, zerolog.InfoLevel, msg, kv) }
func (l *Logger) Warn(ctx context.Context, msg string, kv ...any)  { l.event(ctx, zerolog.WarnLevel, msg, kv) }
func (l *Logger) Error(ctx context.Context, msg string, kv ...any) { l.event(ctx, zerolog.ErrorLevel, msg, kv) }

// With returns a child logger carrying additional static fields.
func (l *Logger) With(kv ...any) LoggerInterface {
	c := l.z.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		c = c.Interface(key, kv[i+1])
	}
	return &Logger{z: c.Logger()}
}

type traceIDKey struct{}

// ContextWithTraceID attaches a trace id to ctx for logger/tracing correlation.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}
