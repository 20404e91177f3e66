package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger writes gorm's statement and driver logs to the global logger.
// Statements are logged at debug level, slow ones at warn and failed ones at error.
// A missing row is not a failure: the store reports it as a nil entity.
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger creates a gorm logger warning about statements slower than slowThreshold.
// A zero threshold disables slow statement warnings.
func NewGormLogger(slowThreshold time.Duration) *GormLogger {
	return &GormLogger{level: gormlogger.Warn, slowThreshold: slowThreshold}
}

// LogMode returns a copy logging at level
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		DebugCtx(ctx, fmt.Sprintf(msg, data...), zap.String("component", "gorm"))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		WarnCtx(ctx, fmt.Sprintf(msg, data...), zap.String("component", "gorm"))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		ErrorCtx(ctx, fmt.Errorf(msg, data...), zap.String("component", "gorm"))
	}
}

// Trace logs one executed statement
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		ErrorCtx(ctx, err,
			zap.String("message", "SQL statement failed"),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("duration", elapsed))
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		WarnCtx(ctx, "Slow SQL statement",
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("duration", elapsed),
			zap.Duration("threshold", l.slowThreshold))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		DebugCtx(ctx, "SQL statement",
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("duration", elapsed))
	}
}
