package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"market-pay/cache"
	"market-pay/conf"
)

func main() {
	// 初始化配置
	if err := conf.Init(); err != nil {
		fmt.Printf("❌ 配置初始化失败: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)

	fmt.Println("正在连接 Redis...")
	if err := cache.Init(); err != nil {
		fmt.Printf("❌ Redis 连接失败: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	if !cache.IsAvailable() {
		fmt.Println("⚠️  Redis 未配置，订单锁与限流将使用进程内存")
		fmt.Println("   单实例部署可正常工作，多实例部署请配置 Redis")
		return
	}

	cfg := conf.GetConf()
	fmt.Println("✅ Redis 连接成功！")
	fmt.Println("")
	fmt.Println("Redis 配置信息：")
	fmt.Printf("  地址: %s:%d\n", cfg.Redis.Address, cfg.Redis.Port)
	fmt.Printf("  数据库: %d\n", cfg.Redis.DB)
	fmt.Printf("  连接池大小: %d\n", cfg.Redis.PoolSize)
	fmt.Println("")

	// 验证分布式锁可用：加锁、释放各一次
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locker := cache.NewRedisLocker(cache.GetClient(), cache.LockOptions{
		TTL:        cfg.Lock.TTL(),
		Tries:      1,
		RetryDelay: cfg.Lock.RetryDelay(),
	})
	lock, err := locker.Acquire(ctx, cache.OrderLockKey("REDISCHECK"))
	if err != nil {
		fmt.Printf("❌ 分布式锁不可用: %v\n", err)
		os.Exit(1)
	}
	if err := lock.Release(ctx); err != nil {
		fmt.Printf("⚠️  释放锁失败: %v\n", err)
	}
	fmt.Println("✅ 订单分布式锁可用")
}
