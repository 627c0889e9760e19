package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// contextKey is the type for context keys
type contextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey contextKey = "request_id"

// Config holds logging configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// New creates a logger with the given configuration
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "text" {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger zerolog.Logger) {
	log.Logger = logger
}

// WithRequestID stores a request id for Time and FromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// FromContext returns logger enriched with the request id in ctx, if any.
func FromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}

// Time logs the duration of an operation. Use it as
//
//	defer logging.Time(ctx, logger, "op")(&err)
func Time(ctx context.Context, logger zerolog.Logger, op string) func(errp *error) {
	start := time.Now()
	l := FromContext(ctx, logger)

	return func(errp *error) {
		dur := time.Since(start)

		if errp != nil && *errp != nil {
			l.Warn().Str("op", op).Int64("dur_ms", dur.Milliseconds()).Err(*errp).Msg("call failed")
			return
		}
		l.Debug().Str("op", op).Int64("dur_ms", dur.Milliseconds()).Msg("call finished")
	}
}
