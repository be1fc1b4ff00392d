package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	config     *Config
	configOnce sync.Once
)

// DefaultPath 默认配置文件路径，可通过 CONFIG_PATH 覆盖
const DefaultPath = "config.yaml"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Lock     LockConfig     `yaml:"lock"`
	Payment  PaymentConfig  `yaml:"payment"`
	Alipay   AlipayConfig   `yaml:"alipay"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Wechat   WechatConfig   `yaml:"wechat"`
	Ikunpay  IkunpayConfig  `yaml:"ikunpay"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Auth     AuthConfig     `yaml:"auth"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

type LogConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Environment string `yaml:"environment"` // development, production
	Output      string `yaml:"output"`      // console, json (生产环境推荐 json)
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // mysql, postgres, sqlite
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `yaml:"auto_migrate"`
	SlowThreshold   int    `yaml:"slow_threshold_ms"`
}

type RedisConfig struct {
	Address      string `yaml:"address"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	DialTimeout  int    `yaml:"dial_timeout"`  // 秒
	ReadTimeout  int    `yaml:"read_timeout"`  // 秒
	WriteTimeout int    `yaml:"write_timeout"` // 秒
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// LockConfig 订单锁配置
type LockConfig struct {
	TTLSeconds   int `yaml:"ttl_seconds"`
	Tries        int `yaml:"tries"`
	RetryDelayMS int `yaml:"retry_delay_ms"`
}

// TTL 锁过期时间
func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// RetryDelay 重试间隔
func (l LockConfig) RetryDelay() time.Duration {
	return time.Duration(l.RetryDelayMS) * time.Millisecond
}

type PaymentConfig struct {
	PublicBaseURL string `yaml:"public_base_url"` // 回调地址前缀
	ReturnURL     string `yaml:"return_url"`      // 支付完成后前端跳转地址
	OrderCacheTTL int    `yaml:"order_cache_ttl"` // 秒
}

type AlipayConfig struct {
	AppID      string `yaml:"app_id"`
	PublicKey  string `yaml:"public_key"` // 支付宝公钥（PEM 或裸 base64）
	GatewayURL string `yaml:"gateway_url"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

type WechatConfig struct {
	MchID          string `yaml:"mch_id"`
	AppID          string `yaml:"app_id"`
	APIv3Key       string `yaml:"api_v3_key"`
	MerchantSerial string `yaml:"merchant_serial"`
	PrivateKey     string `yaml:"private_key"` // 商户私钥 PEM，用于拉取平台证书
	APIBase        string `yaml:"api_base"`
	PayURL         string `yaml:"pay_url"`
}

type IkunpayConfig struct {
	PID        string `yaml:"pid"`
	Key        string `yaml:"key"`
	GatewayURL string `yaml:"gateway_url"`
}

type StripeConfig struct {
	WebhookSecret string `yaml:"webhook_secret"`
	CheckoutURL   string `yaml:"checkout_url"`
}

type AuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	APIKeys      []string `yaml:"api_keys"`
	AdminAPIKeys []string `yaml:"admin_api_keys"`
	UserHeader   string   `yaml:"user_header"` // 网关注入的用户ID头
}

// Init 读取配置文件；文件不存在时使用默认配置
func Init() error {
	var err error
	configOnce.Do(func() {
		path := os.Getenv("CONFIG_PATH")
		if path == "" {
			path = DefaultPath
		}
		config, err = Load(path)
	})
	return err
}

// Load 从指定路径加载配置（不影响全局单例）
func Load(path string) (*Config, error) {
	cfg := Default()

	data, readErr := os.ReadFile(path)
	if readErr == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(readErr) {
		return nil, fmt.Errorf("read %s: %w", path, readErr)
	}

	// 从环境变量覆盖配置
	loadFromEnv(cfg)
	applyFallbacks(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.Host = "0.0.0.0"
	cfg.Log.Level = "info"
	cfg.Log.Environment = "development"
	cfg.Log.Output = "console"

	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:market-pay.db?_pragma=busy_timeout(5000)"
	cfg.Database.MaxOpenConns = 20
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLifetime = 300
	cfg.Database.AutoMigrate = true
	cfg.Database.SlowThreshold = 200

	// Redis 默认配置
	cfg.Redis.Port = 6379
	cfg.Redis.DialTimeout = 5
	cfg.Redis.ReadTimeout = 3
	cfg.Redis.WriteTimeout = 3
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 5

	cfg.Lock.TTLSeconds = 15
	cfg.Lock.Tries = 20
	cfg.Lock.RetryDelayMS = 100

	cfg.Payment.OrderCacheTTL = 30
	cfg.Alipay.GatewayURL = "https://openapi.alipay.com/gateway.do"
	cfg.Wechat.APIBase = "https://api.mch.weixin.qq.com"
	cfg.Auth.UserHeader = "X-User-ID"
	return cfg
}

func loadFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.DSN, "DB_DSN")
	setString(&cfg.Redis.Address, "REDIS_ADDRESS")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Environment, "LOG_ENVIRONMENT")
	setString(&cfg.Log.Output, "LOG_OUTPUT")

	setString(&cfg.Alipay.PublicKey, "ALIPAY_PUBLIC_KEY")
	setString(&cfg.Webhook.Secret, "WEBHOOK_SECRET")
	setString(&cfg.Wechat.APIv3Key, "WECHAT_API_V3_KEY")
	setString(&cfg.Wechat.PrivateKey, "WECHAT_PRIVATE_KEY")
	setString(&cfg.Ikunpay.Key, "IKUNPAY_KEY")
	setString(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")

	if keys := splitKeys(os.Getenv("API_KEYS")); len(keys) > 0 {
		cfg.Auth.APIKeys = keys
		cfg.Auth.Enabled = true
	}
	if keys := splitKeys(os.Getenv("ADMIN_API_KEYS")); len(keys) > 0 {
		cfg.Auth.AdminAPIKeys = keys
		cfg.Auth.Enabled = true
	}
}

func applyFallbacks(cfg *Config) {
	if cfg.Lock.TTLSeconds <= 0 {
		cfg.Lock.TTLSeconds = 15
	}
	if cfg.Lock.Tries <= 0 {
		cfg.Lock.Tries = 20
	}
	if cfg.Lock.RetryDelayMS <= 0 {
		cfg.Lock.RetryDelayMS = 100
	}
	if cfg.Auth.UserHeader == "" {
		cfg.Auth.UserHeader = "X-User-ID"
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Wechat.APIv3Key != "" && len(cfg.Wechat.APIv3Key) != 32 {
		return fmt.Errorf("wechat api_v3_key must be 32 bytes, got %d", len(cfg.Wechat.APIv3Key))
	}
	return nil
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitKeys(raw string) []string {
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func GetConf() *Config {
	if config == nil {
		panic("config not initialized")
	}
	return config
}
