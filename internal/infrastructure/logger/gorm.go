package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// SQLLogConfig configures the query logger of a connection.
type SQLLogConfig struct {
	// Level is one of silent, error, warn, info or debug.
	Level string
	// SlowThreshold marks statements slower than it. Zero disables the check.
	SlowThreshold time.Duration
	// Expected reports driver errors the stores handle themselves, such as
	// lock timeouts that are retried. They are logged at debug level.
	Expected func(error) bool
}

// SQLLogger writes gorm statements to zap with the correlation fields of
// the statement's context. Row locks taken by operations are tagged so lock
// waits can be told apart from plain reads.
type SQLLogger struct {
	log      *zap.Logger
	level    gormlogger.LogLevel
	slow     time.Duration
	expected func(error) bool
}

// NewSQLLogger returns a gorm logger backed by base.
func NewSQLLogger(base *zap.Logger, cfg SQLLogConfig) *SQLLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &SQLLogger{
		log:      base.Named("sql"),
		level:    ParseSQLLevel(cfg.Level),
		slow:     cfg.SlowThreshold,
		expected: cfg.Expected,
	}
}

// ParseSQLLevel maps a configured level name to gorm's levels. Unknown
// names fall back to warn.
func ParseSQLLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Info, msg, data)
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Warn, msg, data)
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Error, msg, data)
}

func (l *SQLLogger) printf(ctx context.Context, at gormlogger.LogLevel, msg string, data []any) {
	if l.level < at {
		return
	}
	sugar := l.log.With(contextFields(ctx)...).Sugar()
	switch at {
	case gormlogger.Error:
		sugar.Errorf(msg, data...)
	case gormlogger.Warn:
		sugar.Warnf(msg, data...)
	default:
		sugar.Infof(msg, data...)
	}
}

// Trace logs one executed statement. A missing row is never an error here:
// the balance store reads absent cells on purpose.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if err != nil && errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	statement, rows := fc()
	verb, locking := classify(statement)

	fields := append([]zap.Field{
		zap.String("verb", verb),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", statement),
	}, contextFields(ctx)...)
	if locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}

	switch {
	case err != nil && l.level >= gormlogger.Error:
		fields = append(fields, zap.Error(err))
		if l.expected != nil && l.expected(err) {
			l.log.Debug("sql failed", fields...)
			return
		}
		l.log.Error("sql failed", fields...)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		l.log.Warn("slow sql", append(fields, zap.Duration("threshold", l.slow))...)
	case l.level >= gormlogger.Info:
		l.log.Debug("sql", fields...)
	}
}

// classify returns the leading keyword of a statement and whether it takes
// row locks.
func classify(statement string) (string, bool) {
	trimmed := strings.TrimSpace(statement)
	verb := trimmed
	if i := strings.IndexAny(trimmed, " \n\t"); i > 0 {
		verb = trimmed[:i]
	}
	upper := strings.ToUpper(trimmed)
	return strings.ToUpper(verb), strings.Contains(upper, "FOR UPDATE") || strings.Contains(upper, "FOR NO KEY UPDATE")
}
