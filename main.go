package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hertz-contrib/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"market-pay/biz/handlers"
	"market-pay/biz/providers"
	"market-pay/biz/services"
	"market-pay/cache"
	"market-pay/common"
	"market-pay/conf"
	"market-pay/db"
)

func main() {
	// 初始化配置
	if err := conf.Init(); err != nil {
		panic(err)
	}
	cfg := conf.GetConf()

	// 初始化日志
	initLogger()
	common.IsDevelopment = cfg.Log.Environment != "production"

	// 数据库是订单账本，必须可用
	if err := db.Init(); err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	store := db.NewStore(db.DB)

	// Redis 可选：不可用时锁、缓存与限流降级到进程内存
	cacheInitialized := false
	if err := cache.Init(); err != nil {
		zap.L().Warn("Failed to initialize Redis cache", zap.Error(err))
		zap.L().Warn("Application will continue with in-process locks")
	} else {
		cacheInitialized = cache.IsAvailable()
	}
	locker := cache.NewLocker(cache.LockOptions{
		TTL:        cfg.Lock.TTL(),
		Tries:      cfg.Lock.Tries,
		RetryDelay: cfg.Lock.RetryDelay(),
	})
	zap.L().Info("Order lock backend selected", zap.String("backend", locker.Name()))

	// 微信平台证书：先加载已落库的证书，商户凭据齐全时才支持在线刷新
	var fetcher providers.CertFetcher
	if client, err := providers.NewWechatCertClient(cfg.Wechat); err == nil {
		fetcher = client
	} else if !errors.Is(err, providers.ErrRefreshUnavailable) {
		zap.L().Warn("Wechat certificate client disabled", zap.Error(err))
	}
	certs := providers.NewCertStore(store, fetcher)
	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := certs.Load(loadCtx); err != nil {
		zap.L().Warn("Failed to load wechat platform certificates", zap.Error(err))
	}
	cancel()

	registry, err := providers.FromConfig(cfg, certs)
	if err != nil {
		zap.L().Fatal("Failed to build payment providers", zap.Error(err))
	}

	pricing := services.NewPricing(store)
	effects := services.NewEffectApplier(store, pricing)
	reconcile := services.NewReconcileService(store)
	orders := services.NewOrderService(store, pricing, effects, locker,
		services.NewPayURLBuilder(cfg), time.Duration(cfg.Payment.OrderCacheTTL)*time.Second)
	processor := services.NewCallbackProcessor(store, registry, effects, locker)
	admin := services.NewAdminService(store, reconcile, certs)
	auth := common.NewAuthenticator(cfg.Auth)

	// 创建 Hertz 服务器
	h := server.Default(
		server.WithHostPorts(cfg.Server.Host + ":" + cfg.Server.Port),
	)

	h.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Accept", "X-API-Key", auth.UserHeader()},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 添加监控指标中间件（必须在最前面，以便记录所有请求）
	h.Use(common.MetricsMiddleware())

	// 添加请求日志中间件（记录请求开始、结束和耗时）
	h.Use(common.RequestLogger())

	// 速率限制，回调入口不受限
	h.Use(common.NewRateLimiter(cache.GetClient(), common.DefaultRateLimitStrategy).Middleware(auth.UserHeader()))

	// 添加错误恢复中间件（捕获panic）
	h.Use(common.RecoveryHandler())

	handlers.Routes{
		Orders:    handlers.NewOrderHandler(orders),
		Notify:    handlers.NewNotifyHandler(processor),
		Admin:     handlers.NewAdminHandler(admin),
		Auth:      auth,
		Providers: registry.Names(),
	}.Register(h.Engine)

	// 添加错误处理中间件（处理c.Errors，必须在路由注册之后）
	h.Use(common.ErrorHandler())

	// 后注册的先关闭
	sm := common.NewShutdownManager(30 * time.Second)
	sm.Register("database", db.Close)
	if cacheInitialized {
		sm.Register("redis", cache.Close)
	}
	h.OnShutdown = append(h.OnShutdown, sm.Hook())

	zap.L().Info("Server starting",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.Strings("providers", registry.Names()))

	// Spin 阻塞直到收到 SIGINT 或 SIGTERM
	h.Spin()

	// OnShutdown 未触发时兜底清理
	sm.Shutdown(context.Background())
	zap.L().Info("Server stopped")
}

func initLogger() {
	cfg := conf.GetConf()

	var logger *zap.Logger
	var err error

	// 根据环境选择日志配置
	env := cfg.Log.Environment
	if env == "" {
		env = "development" // 默认开发环境
	}

	// 解析日志级别
	var logLevel zapcore.Level
	levelStr := cfg.Log.Level
	if levelStr == "" {
		levelStr = "info"
	}

	switch levelStr {
	case "debug":
		logLevel = zapcore.DebugLevel
	case "info":
		logLevel = zapcore.InfoLevel
	case "warn":
		logLevel = zapcore.WarnLevel
	case "error":
		logLevel = zapcore.ErrorLevel
	default:
		logLevel = zapcore.InfoLevel
	}

	// 根据环境创建日志配置
	if env == "production" {
		// 生产环境配置
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(logLevel)

		// 根据输出格式选择编码器
		if cfg.Log.Output == "json" {
			config.Encoding = "json"
		} else {
			config.Encoding = "console"
		}

		// 生产环境优化
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.StacktraceKey = "stacktrace"

		// 禁用调用者信息（生产环境性能优化）
		config.DisableCaller = false
		config.DisableStacktrace = logLevel > zapcore.ErrorLevel

		logger, err = config.Build()
	} else {
		// 开发环境配置
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(logLevel)

		// 开发环境使用彩色控制台输出
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

		logger, err = config.Build()
	}

	if err != nil {
		panic(fmt.Errorf("failed to initialize logger: %w", err))
	}

	zap.ReplaceGlobals(logger)

	// 设置 Hertz 日志级别
	var hzLevel hlog.Level
	switch logLevel {
	case zapcore.DebugLevel:
		hzLevel = hlog.LevelDebug
	case zapcore.InfoLevel:
		hzLevel = hlog.LevelInfo
	case zapcore.WarnLevel:
		hzLevel = hlog.LevelWarn
	case zapcore.ErrorLevel:
		hzLevel = hlog.LevelError
	default:
		hzLevel = hlog.LevelInfo
	}
	hlog.SetLevel(hzLevel)

	// 记录日志系统初始化信息
	zap.L().Info("Logger initialized",
		zap.String("environment", env),
		zap.String("level", levelStr),
		zap.String("output", cfg.Log.Output))
}
