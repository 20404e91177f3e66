// Package logger is the process-wide structured logger. Entries go to zap; errors are also
// reported to Sentry when a DSN is configured, with lower levels kept as breadcrumbs.
package logger

import (
	"context"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// log is a no-op until Initialize is called
	log          = zap.NewNop()
	sentryClient *sentry.Client
)

// Config holds logger configuration
type Config struct {
	Debug     bool
	SentryDSN string
	// SentryClient is used instead of creating one from SentryDSN
	SentryClient    *sentry.Client
	BreadcrumbLevel zapcore.Level
	Tags            map[string]string
	// Service is added to every entry as the "service" field
	Service string
}

// Initialize replaces the global logger
func Initialize(cfg Config) error {
	base, err := newZapLogger(cfg)
	if err != nil {
		return err
	}

	if cfg.SentryDSN == "" {
		log = base
		return nil
	}

	client := cfg.SentryClient
	if client == nil {
		client, err = sentry.NewClient(sentry.ClientOptions{
			Dsn:   cfg.SentryDSN,
			Debug: cfg.Debug,
		})
		if err != nil {
			return err
		}
	}

	breadcrumbLevel := cfg.BreadcrumbLevel
	if breadcrumbLevel == zapcore.InvalidLevel {
		breadcrumbLevel = zapcore.InfoLevel
	}

	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level:             zapcore.ErrorLevel,
		EnableBreadcrumbs: true,
		BreadcrumbLevel:   breadcrumbLevel,
		Tags:              cfg.Tags,
	}, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		return err
	}

	sentryClient = client
	log = zapsentry.AttachCoreToLogger(core, base)

	return nil
}

// newZapLogger builds the console or JSON logger, at debug level when cfg.Debug is set
func newZapLogger(cfg Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if cfg.Debug {
		zapConfig = zap.NewDevelopmentConfig()
		level = zapcore.DebugLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	l, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Service != "" {
		l = l.With(zap.String("service", cfg.Service))
	}
	return l, nil
}

// Flush waits up to timeout for buffered Sentry events to be sent
func Flush(timeout time.Duration) {
	if sentryClient != nil {
		sentryClient.Flush(timeout)
	}
}

// FromContext returns the logger bound to the Sentry scope of ctx
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return log
	}
	return log.With(zapsentry.Context(ctx))
}

// Default returns the global logger
func Default() *zap.Logger {
	return log
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

func DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Debug(msg, fields...)
}

// Error logs err as the message of an error entry
func Error(err error, fields ...zap.Field) {
	log.Error(errorMessage(err), fields...)
}

// ErrorCtx logs err as the message of an error entry bound to the Sentry scope of ctx
func ErrorCtx(ctx context.Context, err error, fields ...zap.Field) {
	FromContext(ctx).Error(errorMessage(err), fields...)
}

func errorMessage(err error) string {
	if err == nil {
		return "error occurred"
	}
	return err.Error()
}

// Fatal logs and exits the process
func Fatal(msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}

// FatalCtx logs and exits the process
func FatalCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Fatal(msg, fields...)
}
