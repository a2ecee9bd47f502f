package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// QueryLoggerConfig selects which SQL statements reach the log.
type QueryLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
}

func DefaultQueryLoggerConfig() QueryLoggerConfig {
	return QueryLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

// QueryLogger writes gorm statements through zap. Each entry carries the
// request and membership fields found on the statement's context, so a
// slow or failed write can be traced back to the operation that issued it.
type QueryLogger struct {
	base *zap.Logger
	cfg  QueryLoggerConfig
}

func NewQueryLogger(base *zap.Logger, cfg QueryLoggerConfig) *QueryLogger {
	if base == nil {
		base = zap.L()
	}
	return &QueryLogger{base: base.Named("store.sql"), cfg: cfg}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *QueryLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < min {
		return
	}
	if ce := WithContext(ctx, l.base).Check(level, fmt.Sprintf(msg, data...)); ce != nil {
		ce.Write()
	}
}

func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var level zapcore.Level
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error:
		if l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
			return
		}
		level = zapcore.ErrorLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		level = zapcore.WarnLevel
	case l.cfg.Level >= gormlogger.Info:
		level = zapcore.DebugLevel
	default:
		return
	}

	sql, rows := fc()
	stmt := describeStatement(sql)
	fields := []zap.Field{
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if stmt.versioned && rows == 0 && err == nil {
		fields = append(fields, zap.Bool("version_mismatch", true))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	msg := "store.query"
	if level == zapcore.WarnLevel {
		msg = "store.slow_query"
	}
	if ce := WithContext(ctx, l.base).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// ParamsFilter drops bound values; they include password hashes.
func (l *QueryLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

type statement struct {
	operation string
	table     string
	versioned bool
}

// describeStatement extracts the verb, target table and whether sql is a
// version-guarded update.
func describeStatement(sql string) statement {
	tokens := strings.Fields(strings.NewReplacer(`"`, "", "`", "", "(", " ", ")", " ", ";", " ").Replace(sql))
	out := statement{operation: "UNKNOWN"}

	for i, token := range tokens {
		upper := strings.ToUpper(token)
		switch upper {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if out.operation == "UNKNOWN" {
				out.operation = upper
			}
			if upper == "UPDATE" && out.table == "" && i+1 < len(tokens) {
				out.table = tokens[i+1]
			}
		case "FROM", "INTO":
			if out.table == "" && i+1 < len(tokens) {
				out.table = tokens[i+1]
			}
		case "WHERE":
			if out.operation == "UPDATE" {
				rest := strings.ToLower(strings.Join(tokens[i+1:], " "))
				out.versioned = strings.Contains(rest, "version =")
			}
		}
	}
	return out
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
