package db

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"market-pay/conf"
)

// DB 全局数据库连接
var DB *gorm.DB

// Init 初始化数据库连接
func Init() error {
	cfg := conf.GetConf().Database

	gdb, err := Open(cfg)
	if err != nil {
		return err
	}

	if cfg.AutoMigrate {
		if err := Migrate(gdb); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	DB = gdb
	zap.L().Info("Database connected successfully", zap.String("driver", cfg.Driver))
	return nil
}

// Open 按驱动打开 gorm 连接
func Open(cfg conf.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(time.Duration(cfg.SlowThreshold) * time.Millisecond),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// sqlite 单写者，避免 database is locked
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return gdb, nil
}

// Migrate 自动建表
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&Order{},
		&CallbackEvent{},
		&UserAccount{},
		&QuotaPackBalance{},
		&Consultation{},
		&ServicePurchase{},
		&SystemConfig{},
		&WechatPlatformCert{},
	)
}

// Close 关闭数据库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 健康检查
func Ping(ctx context.Context) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
