package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"market-pay/cache"
	"market-pay/db"
)

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Services  map[string]string `json:"services"`
	Providers []string          `json:"providers"`
}

var (
	startTime = time.Now()
	version   = "1.0.0" // 可以通过构建时注入：-ldflags "-X market-pay/biz/handlers.version=1.0.0"
)

// Ping GET /ping
func Ping(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"message": "pong"})
}

// HealthCheck 返回健康检查处理器；providers 为已注册的回调渠道
func HealthCheck(providers []string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		response := HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now(),
			Version:   version,
			Uptime:    formatUptime(time.Since(startTime)),
			Services:  make(map[string]string),
			Providers: providers,
		}

		// 数据库是必需依赖
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			response.Status = "unhealthy"
			response.Services["database"] = "disconnected"
			zap.L().Error("Database health check failed", zap.Error(err))
		} else {
			response.Services["database"] = "connected"
		}

		// Redis 不可用时锁与缓存降级，不影响整体状态
		if client := cache.GetClient(); client != nil {
			if err := client.Ping(pingCtx).Err(); err != nil {
				response.Services["redis"] = "disconnected"
				zap.L().Warn("Redis health check failed", zap.Error(err))
			} else {
				response.Services["redis"] = "connected"
			}
		} else {
			response.Services["redis"] = "not configured"
		}

		statusCode := consts.StatusOK
		if response.Status == "unhealthy" {
			statusCode = consts.StatusServiceUnavailable
		}
		c.JSON(statusCode, response)
	}
}

// formatUptime 格式化运行时间
func formatUptime(duration time.Duration) string {
	days := int(duration.Hours() / 24)
	hours := int(duration.Hours()) % 24
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm%ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
