package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserAccount 用户余额与会员有效期
type UserAccount struct {
	UserID       string          `gorm:"primaryKey;size:64" json:"user_id"`
	Balance      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	VipExpiresAt *time.Time      `json:"vip_expires_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (UserAccount) TableName() string { return "user_accounts" }

// QuotaPackBalance 次数包余额
type QuotaPackBalance struct {
	ID        uint64    `gorm:"primaryKey" json:"-"`
	UserID    string    `gorm:"size:64;uniqueIndex:uk_user_pack,priority:1" json:"user_id"`
	PackType  string    `gorm:"size:32;uniqueIndex:uk_user_pack,priority:2" json:"pack_type"`
	Credits   int64     `gorm:"not null;default:0" json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QuotaPackBalance) TableName() string { return "quota_pack_balances" }

// forUpdate 非 sqlite 方言下加行锁
func (s *Store) forUpdate(q *gorm.DB) *gorm.DB {
	if s.Dialect() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockAccount 读取并锁定用户账户，不存在时创建
func (s *Store) LockAccount(ctx context.Context, userID string) (*UserAccount, error) {
	q := s.conn(ctx)
	if err := q.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&UserAccount{UserID: userID, Balance: decimal.Zero}).Error; err != nil {
		return nil, err
	}

	var account UserAccount
	if err := s.forUpdate(q).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// GetAccount 查询用户账户
func (s *Store) GetAccount(ctx context.Context, userID string) (*UserAccount, error) {
	var account UserAccount
	if err := s.conn(ctx).Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, notFound(err)
	}
	return &account, nil
}

// DebitBalance 条件扣减余额；余额不足返回 false
func (s *Store) DebitBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	res := s.conn(ctx).Model(&UserAccount{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	return res.RowsAffected == 1, res.Error
}

// CreditBalance 增加余额
func (s *Store) CreditBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	if _, err := s.LockAccount(ctx, userID); err != nil {
		return err
	}
	return s.conn(ctx).Model(&UserAccount{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

// SetVipExpiry 更新会员到期时间
func (s *Store) SetVipExpiry(ctx context.Context, userID string, expiresAt time.Time) error {
	return s.conn(ctx).Model(&UserAccount{}).
		Where("user_id = ?", userID).
		Update("vip_expires_at", expiresAt).Error
}

// AddPackCredits 原子增加次数包余额
func (s *Store) AddPackCredits(ctx context.Context, userID, packType string, credits int64) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "pack_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"credits": gorm.Expr("quota_pack_balances.credits + ?", credits)}),
	}).Create(&QuotaPackBalance{UserID: userID, PackType: packType, Credits: credits}).Error
}

// GetPackCredits 查询次数包余额
func (s *Store) GetPackCredits(ctx context.Context, userID, packType string) (int64, error) {
	var pack QuotaPackBalance
	err := s.conn(ctx).Where("user_id = ? AND pack_type = ?", userID, packType).First(&pack).Error
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	return pack.Credits, nil
}
