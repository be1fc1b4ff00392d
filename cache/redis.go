package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"market-pay/conf"
)

var (
	client     *redis.Client
	clientOnce sync.Once
)

// 缓存键前缀
const (
	OrderKeyPrefix = "pay:order_snapshot:"
)

// Init 初始化 Redis 连接；未配置或连接失败时缓存与分布式锁降级
func Init() error {
	var err error
	clientOnce.Do(func() {
		cfg := conf.GetConf()

		if cfg.Redis.Address == "" {
			zap.L().Info("Redis not configured, caching disabled")
			return
		}

		c := redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Address, cfg.Redis.Port),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  time.Duration(cfg.Redis.DialTimeout) * time.Second,
			ReadTimeout:  time.Duration(cfg.Redis.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Redis.WriteTimeout) * time.Second,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err = c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return
		}
		client = c

		zap.L().Info("Redis connected successfully",
			zap.String("address", fmt.Sprintf("%s:%d", cfg.Redis.Address, cfg.Redis.Port)),
			zap.Int("db", cfg.Redis.DB))
	})
	return err
}

// Close 关闭 Redis 连接
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// IsAvailable 检查 Redis 是否可用
func IsAvailable() bool {
	return client != nil
}

// GetClient 获取 Redis 客户端（用于高级操作）
func GetClient() *redis.Client {
	return client
}

// OrderKey 订单快照缓存键
func OrderKey(orderNo string) string {
	return OrderKeyPrefix + orderNo
}

// GetJSON 读取 JSON 缓存；未命中或 Redis 不可用返回 false
func GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	if !IsAvailable() {
		return false, nil
	}

	val, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		zap.L().Warn("Failed to read cache", zap.Error(err), zap.String("key", key))
		return false, err
	}

	if err := json.Unmarshal(val, dst); err != nil {
		zap.L().Warn("Failed to unmarshal cache", zap.Error(err), zap.String("key", key))
		return false, err
	}
	return true, nil
}

// SetJSON 写入 JSON 缓存
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !IsAvailable() {
		return nil
	}

	val, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := client.Set(ctx, key, val, ttl).Err(); err != nil {
		zap.L().Warn("Failed to set cache", zap.Error(err), zap.String("key", key))
		return err
	}
	return nil
}

// Delete 删除缓存
func Delete(ctx context.Context, keys ...string) error {
	if !IsAvailable() || len(keys) == 0 {
		return nil
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		zap.L().Warn("Failed to delete cache", zap.Error(err), zap.Strings("keys", keys))
		return err
	}
	return nil
}
