// Package logging provides structured logging for the sync engine on top of
// Go's log/slog package.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/arteapos/possync/errors"
)

// Logger wraps slog.Logger with engine-specific conveniences.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level       string `json:"level"`       // debug, info, warn, error
	Format      string `json:"format"`      // text, json
	AddSource   bool   `json:"add_source"`  // include source position
	Environment string `json:"environment"` // development, production, test
}

// DefaultConfig is used when no configuration is supplied.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "text",
	Environment: EnvDevelopment,
}

var defaultLogger *Logger

// Component identifies the engine part emitting a log record.
type Component string

func (c Component) LogValue() slog.Value { return slog.StringValue(string(c)) }

// SyncErrorValuer renders a *errors.SyncError as a structured group.
type SyncErrorValuer struct {
	*errors.SyncError
}

func (e SyncErrorValuer) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("operation", string(e.Op)),
		slog.String("component", e.Component),
		slog.String("kind", string(e.Kind)),
		slog.Bool("retryable", e.Retryable),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	if len(e.Metadata) > 0 {
		meta := make([]slog.Attr, 0, len(e.Metadata))
		for k, v := range e.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Any("metadata", slog.GroupValue(meta...)))
	}
	return slog.GroupValue(attrs...)
}

// New creates a Logger writing to w with the provided configuration.
func New(config Config, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Init installs the global logger used by the package-level helpers.
func Init(config Config) {
	defaultLogger = New(config, os.Stderr)
	slog.SetDefault(defaultLogger.Logger)
}

// Default returns the global logger, initializing it on first use.
func Default() *Logger {
	if defaultLogger == nil {
		Init(GetConfigFromEnv())
	}
	return defaultLogger
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithComponent returns a child logger tagged with the component name.
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// WithDevice returns a child logger tagged with the local device id.
func (l *Logger) WithDevice(deviceID string) *Logger {
	return &Logger{Logger: l.With(slog.String("device_id", deviceID))}
}

// LogError logs err with structured detail when it is a SyncError.
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)

	var se *errors.SyncError
	if errors.As(err, &se) {
		args = append(args, slog.Any("sync_error", SyncErrorValuer{SyncError: se}))
	} else if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}

	l.ErrorContext(ctx, msg, args...)
}

// LogOperation runs fn, logging start, outcome and duration.
func (l *Logger) LogOperation(ctx context.Context, op errors.Operation, fn func() error) error {
	start := time.Now()
	opLogger := &Logger{Logger: l.With(slog.String("operation", string(op)))}

	opLogger.DebugContext(ctx, "operation started")
	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.LogError(ctx, err, "operation failed", slog.Duration("duration", duration))
		return err
	}
	opLogger.DebugContext(ctx, "operation completed", slog.Duration("duration", duration))
	return nil
}

// Package-level helpers on the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

func LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	Default().LogError(ctx, err, msg, attrs...)
}

func WithComponent(component Component) *Logger {
	return Default().WithComponent(component)
}
