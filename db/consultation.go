package db

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// Consultation AI 咨询记录（只读取归属与审核资格）
type Consultation struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"size:64;index" json:"user_id"`
	ReviewEligible bool      `gorm:"not null;default:false" json:"review_eligible"`
	ReviewOrderNo  *string   `gorm:"size:32" json:"review_order_no,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Consultation) TableName() string { return "consultations" }

// ServicePurchase 已购买的服务，order_no 唯一保证只开通一次
type ServicePurchase struct {
	ID          uint64         `gorm:"primaryKey" json:"id"`
	OrderNo     string         `gorm:"size:32;uniqueIndex" json:"order_no"`
	UserID      string         `gorm:"size:64;index" json:"user_id"`
	OrderType   string         `gorm:"size:32" json:"order_type"`
	RelatedID   *int64         `json:"related_id,omitempty"`
	RelatedType *string        `gorm:"size:32" json:"related_type,omitempty"`
	Snapshot    datatypes.JSON `json:"snapshot,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (ServicePurchase) TableName() string { return "service_purchases" }

// GetConsultation 查询咨询
func (s *Store) GetConsultation(ctx context.Context, id int64) (*Consultation, error) {
	var c Consultation
	if err := s.conn(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateConsultation 新建咨询（供上游内容服务与测试使用）
func (s *Store) CreateConsultation(ctx context.Context, c *Consultation) error {
	return s.conn(ctx).Create(c).Error
}

// MarkReviewEligible 标记咨询可申请律师审核
func (s *Store) MarkReviewEligible(ctx context.Context, id int64, orderNo string) (bool, error) {
	res := s.conn(ctx).Model(&Consultation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"review_eligible": true, "review_order_no": orderNo})
	return res.RowsAffected == 1, res.Error
}

// CreateServicePurchase 开通服务
func (s *Store) CreateServicePurchase(ctx context.Context, p *ServicePurchase) error {
	return s.conn(ctx).Create(p).Error
}

// GetServicePurchase 按订单号查询已开通服务
func (s *Store) GetServicePurchase(ctx context.Context, orderNo string) (*ServicePurchase, error) {
	var p ServicePurchase
	if err := s.conn(ctx).Where("order_no = ?", orderNo).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
