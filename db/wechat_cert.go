package db

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// WechatPlatformCert 微信支付平台证书
type WechatPlatformCert struct {
	ID          uint64    `gorm:"primaryKey" json:"-"`
	SerialNo    string    `gorm:"size:64;uniqueIndex" json:"serial_no"`
	PEM         string    `gorm:"column:pem;type:text" json:"-"`
	EffectiveAt time.Time `json:"effective_at"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
	Source      string    `gorm:"size:16" json:"source"` // manual, refresh
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (WechatPlatformCert) TableName() string { return "wechat_platform_certs" }

// ListWechatCerts 全部平台证书，新证书在前
func (s *Store) ListWechatCerts(ctx context.Context) ([]WechatPlatformCert, error) {
	var certs []WechatPlatformCert
	err := s.conn(ctx).Order("expires_at DESC").Find(&certs).Error
	return certs, err
}

// UpsertWechatCert 按序列号写入证书
func (s *Store) UpsertWechatCert(ctx context.Context, cert *WechatPlatformCert) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial_no"}},
		DoUpdates: clause.AssignmentColumns([]string{"pem", "effective_at", "expires_at", "source", "updated_at"}),
	}).Create(cert).Error
}
