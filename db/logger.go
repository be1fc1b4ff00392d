package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"market-pay/common"
)

// GormLogger 将 gorm 日志写入 zap 并记录查询指标
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 gorm 日志适配器
func NewGormLogger(slowThreshold time.Duration) *GormLogger {
	return &GormLogger{level: gormlogger.Warn, slowThreshold: slowThreshold}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		zap.L().Info(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		zap.L().Warn(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		zap.L().Error(msg, zap.String("component", "gorm"), zap.Any("data", data))
	}
}

// Trace 记录慢查询与失败查询；唯一键冲突是幂等路径的正常结果，只记 debug
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	operation := operationFromSQL(sql)

	status := "ok"
	if err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) {
		status = "error"
	}
	common.RecordDBQuery(operation, status, elapsed)

	if l.level <= gormlogger.Silent {
		return
	}

	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.Int64("rows_affected", rows),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err != nil && IsDuplicateKey(err):
		zap.L().Debug("gorm.query duplicate key", append(fields, zap.Error(err))...)
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		zap.L().Error("gorm.query", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		zap.L().Warn("gorm.query slow", fields...)
	case l.level >= gormlogger.Info:
		zap.L().Debug("gorm.query", fields...)
	}
}

// ParamsFilter 不记录绑定参数（回调原文可能含敏感字段）
func (l *GormLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	return sql, nil
}

func operationFromSQL(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		token = strings.Trim(token, "();")
		switch token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return strings.ToLower(token)
		}
	}
	return "other"
}

var _ gormlogger.Interface = (*GormLogger)(nil)
