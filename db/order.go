package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusPaid      OrderStatus = "paid"
	StatusCancelled OrderStatus = "cancelled"
	StatusFailed    OrderStatus = "failed"
)

// IsTerminal 终态不可再迁移
func (s OrderStatus) IsTerminal() bool {
	return s != StatusPending
}

// Order 支付订单
type Order struct {
	ID            uint64          `gorm:"primaryKey" json:"-"`
	OrderNo       string          `gorm:"size:32;uniqueIndex" json:"order_no"`
	UserID        string          `gorm:"size:64;index" json:"user_id"`
	OrderType     string          `gorm:"size:32" json:"order_type"`
	Title         string          `gorm:"size:128" json:"title,omitempty"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	ActualAmount  decimal.Decimal `gorm:"type:decimal(12,2)" json:"actual_amount"`
	Status        OrderStatus     `gorm:"size:16;index" json:"status"`
	PaymentMethod *string         `gorm:"size:32" json:"payment_method,omitempty"`
	TradeNo       *string         `gorm:"size:128" json:"trade_no,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	RelatedID     *int64          `json:"related_id,omitempty"`
	RelatedType   *string         `gorm:"size:32" json:"related_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// CreateOrder 插入新订单
func (s *Store) CreateOrder(ctx context.Context, order *Order) error {
	return s.conn(ctx).Create(order).Error
}

// GetOrder 按订单号查询
func (s *Store) GetOrder(ctx context.Context, orderNo string) (*Order, error) {
	var order Order
	if err := s.conn(ctx).Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// GetUserOrder 查询属于指定用户的订单
func (s *Store) GetUserOrder(ctx context.Context, orderNo, userID string) (*Order, error) {
	var order Order
	err := s.conn(ctx).Where("order_no = ? AND user_id = ?", orderNo, userID).First(&order).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// SetPaymentMethod 记录用户选择的支付方式，仅待支付订单可修改
func (s *Store) SetPaymentMethod(ctx context.Context, orderNo, method string) (bool, error) {
	res := s.conn(ctx).Model(&Order{}).
		Where("order_no = ? AND status = ?", orderNo, StatusPending).
		Update("payment_method", method)
	return res.RowsAffected == 1, res.Error
}

// MarkPaid 条件更新 pending -> paid；返回 false 表示订单已不是待支付
func (s *Store) MarkPaid(ctx context.Context, orderNo, tradeNo, method string, paidAt time.Time) (bool, error) {
	res := s.conn(ctx).Model(&Order{}).
		Where("order_no = ? AND status = ?", orderNo, StatusPending).
		Updates(map[string]interface{}{
			"status":         StatusPaid,
			"trade_no":       tradeNo,
			"payment_method": method,
			"paid_at":        paidAt,
		})
	return res.RowsAffected == 1, res.Error
}

// TransitionFromPending 条件更新 pending -> to（取消/失败）
func (s *Store) TransitionFromPending(ctx context.Context, orderNo string, to OrderStatus) (bool, error) {
	res := s.conn(ctx).Model(&Order{}).
		Where("order_no = ? AND status = ?", orderNo, StatusPending).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// CountOrdersByStatus 按状态统计订单数
func (s *Store) CountOrdersByStatus(ctx context.Context, since time.Time) (map[OrderStatus]int64, error) {
	var rows []struct {
		Status OrderStatus
		Total  int64
	}
	err := s.conn(ctx).Model(&Order{}).
		Select("status, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[OrderStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}
