package common

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// probePaths 探活与指标抓取，只在 debug 级别记录
var probePaths = map[string]bool{
	"/ping":    true,
	"/health":  true,
	"/metrics": true,
}

// RequestLogger 请求日志中间件；路由参数中的订单号与渠道名一并记录，便于按订单追踪回调
func RequestLogger() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		path := string(c.Path())
		requestID := GetRequestID(c)
		c.Header("X-Request-ID", requestID)

		base := zapcore.InfoLevel
		if probePaths[path] {
			base = zapcore.DebugLevel
		}
		if ce := zap.L().Check(base, "Request started"); ce != nil {
			ce.Write(
				zap.String("method", string(c.Method())),
				zap.String("path", path),
				zap.String("client_ip", c.ClientIP()),
				zap.String("user_agent", string(c.UserAgent())),
				zap.String("request_id", requestID),
			)
		}

		c.Next(ctx)

		statusCode := c.Response.StatusCode()
		level := base
		switch {
		case statusCode >= 500:
			level = zapcore.ErrorLevel
		case statusCode >= 400:
			level = zapcore.WarnLevel
		}

		ce := zap.L().Check(level, "Request completed")
		if ce == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", string(c.Method())),
			zap.String("path", path),
			zap.Int("status_code", statusCode),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", requestID),
		}
		ce.Write(append(fields, requestFields(c)...)...)
	}
}

// requestFields 业务维度字段，缺失时省略
func requestFields(c *app.RequestContext) []zap.Field {
	var fields []zap.Field
	if v := c.Param("order_no"); v != "" {
		fields = append(fields, zap.String("order_no", v))
	}
	if v := c.Param("provider"); v != "" {
		fields = append(fields, zap.String("provider", v))
	}
	if v := UserIDFromContext(c); v != "" {
		fields = append(fields, zap.String("user_id", v))
	}
	return fields
}

// GetRequestID 获取或生成请求ID
func GetRequestID(c *app.RequestContext) string {
	if requestID := string(c.GetHeader("X-Request-ID")); requestID != "" {
		return requestID
	}
	if id := c.GetString("request_id"); id != "" {
		return id
	}

	requestID := "REQ-" + uuid.NewString()
	c.Set("request_id", requestID)
	return requestID
}

// LogStage 记录处理阶段日志
func LogStage(c *app.RequestContext, stage string, fields ...zap.Field) {
	LogStageWithLevel(c, zapcore.InfoLevel, stage, fields...)
}

// LogStageWithLevel 指定级别记录处理阶段
func LogStageWithLevel(c *app.RequestContext, level zapcore.Level, stage string, fields ...zap.Field) {
	ce := zap.L().Check(level, "Processing stage")
	if ce == nil {
		return
	}
	ce.Write(append([]zap.Field{
		zap.String("stage", stage),
		zap.String("path", string(c.Path())),
		zap.String("request_id", GetRequestID(c)),
	}, append(requestFields(c), fields...)...)...)
}
