package common

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Limit  int           // 请求次数限制
	Window time.Duration // 时间窗口
}

// RateLimitStrategy 速率限制策略
type RateLimitStrategy struct {
	Global    RateLimitConfig // 全局限制（按IP）
	Order     RateLimitConfig // 下单/支付接口限制（更严格）
	User      RateLimitConfig // 按用户ID限制
	Whitelist []string        // IP白名单（不受限制）
}

// DefaultRateLimitStrategy 默认策略
var DefaultRateLimitStrategy = RateLimitStrategy{
	Global: RateLimitConfig{Limit: 100, Window: time.Minute},
	Order:  RateLimitConfig{Limit: 10, Window: time.Minute},
	User:   RateLimitConfig{Limit: 50, Window: time.Minute},
}

// RateLimiter 滑动窗口限流器，Redis 不可用时降级到进程内存
type RateLimiter struct {
	client   *redis.Client
	strategy RateLimitStrategy
	memory   *memoryWindow
}

type memoryWindow struct {
	sync.Mutex
	requests map[string][]time.Time
}

// NewRateLimiter 创建限流器，client 可为 nil
func NewRateLimiter(client *redis.Client, strategy RateLimitStrategy) *RateLimiter {
	return &RateLimiter{
		client:   client,
		strategy: strategy,
		memory:   &memoryWindow{requests: make(map[string][]time.Time)},
	}
}

// isNotifyEndpoint 支付渠道回调不限流，由渠道自身控制重试
func isNotifyEndpoint(path string) bool {
	return strings.HasSuffix(path, "/notify") || path == "/payment/webhook"
}

// isOrderEndpoint 判断是否为下单/发起支付接口
func isOrderEndpoint(method, path string) bool {
	return method == consts.MethodPost && strings.HasPrefix(path, "/payment/orders")
}

func rateLimitKey(identifier, path string) string {
	return fmt.Sprintf("ratelimit:%s:%s", identifier, path)
}

// Allow 检查并记录一次请求，返回是否超限以及窗口内计数
func (l *RateLimiter) Allow(ctx context.Context, key string, cfg RateLimitConfig) (bool, int) {
	if l.client != nil {
		exceeded, count, err := l.checkRedis(ctx, key, cfg)
		if err == nil {
			RecordRedisOperation("ratelimit", "ok")
			return !exceeded, count
		}
		RecordRedisOperation("ratelimit", "error")
		zap.L().Warn("Redis rate limit check failed, falling back to memory", zap.Error(err))
	}
	exceeded, count := l.checkMemory(key, cfg)
	return !exceeded, count
}

// checkRedis 使用 ZSET 滑动窗口
func (l *RateLimiter) checkRedis(ctx context.Context, key string, cfg RateLimitConfig) (bool, int, error) {
	now := time.Now()
	windowStart := now.Add(-cfg.Window)

	if err := l.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano())).Err(); err != nil {
		return false, 0, err
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if int(count) >= cfg.Limit {
		return true, int(count), nil
	}

	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	return false, int(count) + 1, nil
}

func (l *RateLimiter) checkMemory(key string, cfg RateLimitConfig) (bool, int) {
	l.memory.Lock()
	defer l.memory.Unlock()

	now := time.Now()
	windowStart := now.Add(-cfg.Window)

	valid := l.memory.requests[key][:0]
	for _, t := range l.memory.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= cfg.Limit {
		l.memory.requests[key] = valid
		return true, len(valid)
	}

	valid = append(valid, now)
	l.memory.requests[key] = valid
	return false, len(valid)
}

func (l *RateLimiter) isWhitelisted(ip string) bool {
	for _, whiteIP := range l.strategy.Whitelist {
		if ip == whiteIP {
			return true
		}
	}
	return false
}

// Middleware 速率限制中间件
func (l *RateLimiter) Middleware(userHeader string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		path := string(c.Path())
		method := string(c.Method())
		clientIP := c.ClientIP()

		if path == "/ping" || path == "/health" || path == "/metrics" || isNotifyEndpoint(path) {
			c.Next(ctx)
			return
		}
		if l.isWhitelisted(clientIP) {
			c.Next(ctx)
			return
		}

		cfg := l.strategy.Global
		limitType := "ip"
		if isOrderEndpoint(method, path) {
			cfg = l.strategy.Order
			limitType = "order"
		}

		allowed, count := l.Allow(ctx, rateLimitKey(clientIP, path), cfg)
		if allowed && l.strategy.User.Limit > 0 {
			if userID := strings.TrimSpace(string(c.GetHeader(userHeader))); userID != "" {
				cfg = l.strategy.User
				limitType = "user"
				allowed, count = l.Allow(ctx, rateLimitKey("user:"+userID, path), cfg)
			}
		}

		if !allowed {
			RecordRateLimitHit(limitType, normalizePath(c))
			zap.L().Warn("Rate limit exceeded",
				zap.String("limit_type", limitType),
				zap.String("ip", clientIP),
				zap.String("path", path),
				zap.Int("count", count),
				zap.Int("limit", cfg.Limit))

			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", int(cfg.Window.Seconds())))
			c.JSON(consts.StatusTooManyRequests, utils.H{
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "Rate limit exceeded. Please try again later.",
				"details": fmt.Sprintf("Maximum %d requests per %v allowed", cfg.Limit, cfg.Window),
			})
			c.Abort()
			return
		}

		remaining := cfg.Limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		c.Next(ctx)
	}
}
