package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const loggerKey ctxKey = iota

var (
	defaultLogger     *zap.Logger
	defaultLoggerOnce sync.Once
)

// Options controls how the process logger is built.
// Empty fields fall back to the ENV and LOG_LEVEL environment variables.
type Options struct {
	Env   string // dev | development | prod
	Level string // debug | info | warn | error
}

// NewLogger builds a logger from the environment.
func NewLogger() *zap.Logger {
	logger, err := Build(Options{})
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	return logger
}

// Build creates a zap logger. Development envs get the colored console
// encoder, everything else gets the JSON production config.
func Build(opts Options) (*zap.Logger, error) {
	env := opts.Env
	if env == "" {
		env = os.Getenv("ENV")
	}
	level := opts.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	var config zap.Config
	switch strings.ToLower(env) {
	case "dev", "development":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		config = zap.NewProductionConfig()
		config.DisableCaller = false
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	return config.Build()
}

// DefaultLogger returns the process-wide logger, built once from the environment.
func DefaultLogger() *zap.Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = NewLogger()
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Call it before any request is served.
func SetDefault(logger *zap.Logger) {
	defaultLoggerOnce.Do(func() {})
	defaultLogger = logger
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return DefaultLogger()
}

func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx)
}

// WithFields adds structured fields to the logger in context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(fields...))
}
