package db

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// SystemConfig 键值配置，定价表与功能开关存放于此以便热更新
type SystemConfig struct {
	ID          uint64    `gorm:"primaryKey" json:"-"`
	ConfigKey   string    `gorm:"size:64;uniqueIndex" json:"key"`
	ConfigValue string    `gorm:"type:text" json:"value"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_configs" }

// GetConfigValue 读取配置，不存在时 ok 为 false
func (s *Store) GetConfigValue(ctx context.Context, key string) (value string, ok bool, err error) {
	var cfg SystemConfig
	err = s.conn(ctx).Where("config_key = ?", key).First(&cfg).Error
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return cfg.ConfigValue, true, nil
}

// SetConfigValue 写入或覆盖配置
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "config_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"config_value", "updated_at"}),
	}).Create(&SystemConfig{ConfigKey: key, ConfigValue: value}).Error
}
