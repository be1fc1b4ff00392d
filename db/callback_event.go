package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CallbackEvent 支付回调审计记录，只追加不修改
//
// TradeNo 只在通过验签且渠道报告支付成功时写入，构成 (provider, trade_no)
// 幂等键；其余记录 TradeNo 为 NULL，渠道声称的单号保存在 ReportedTradeNo。
type CallbackEvent struct {
	ID              uint64          `gorm:"primaryKey" json:"id"`
	Provider        string          `gorm:"size:32;uniqueIndex:uk_provider_trade_no,priority:1;index:idx_callback_provider_created,priority:1" json:"provider"`
	OrderNo         string          `gorm:"size:64;index" json:"order_no"`
	TradeNo         *string         `gorm:"size:128;uniqueIndex:uk_provider_trade_no,priority:2" json:"trade_no,omitempty"`
	ReportedTradeNo string          `gorm:"size:128;index" json:"reported_trade_no,omitempty"`
	PaymentMethod   string          `gorm:"size:32" json:"payment_method,omitempty"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Verified        bool            `gorm:"index" json:"verified"`
	ErrorMessage    string          `gorm:"size:255" json:"error_message,omitempty"`
	RawPayload      string          `gorm:"type:text" json:"raw_payload"`
	CreatedAt       time.Time       `gorm:"index:idx_callback_provider_created,priority:2" json:"created_at"`
}

func (CallbackEvent) TableName() string { return "payment_callback_events" }

// InsertCallbackEvent 追加回调记录；幂等键冲突时返回的错误满足 IsDuplicateKey
func (s *Store) InsertCallbackEvent(ctx context.Context, event *CallbackEvent) error {
	return s.conn(ctx).Create(event).Error
}

// FindEventByTradeNo 按幂等键查询
func (s *Store) FindEventByTradeNo(ctx context.Context, provider, tradeNo string) (*CallbackEvent, error) {
	var event CallbackEvent
	err := s.conn(ctx).Where("provider = ? AND trade_no = ?", provider, tradeNo).First(&event).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}

// ListOrderEvents 按时间顺序返回订单的全部回调
func (s *Store) ListOrderEvents(ctx context.Context, orderNo string) ([]CallbackEvent, error) {
	var events []CallbackEvent
	err := s.conn(ctx).Where("order_no = ?", orderNo).Order("created_at ASC, id ASC").Find(&events).Error
	return events, err
}

// EventFilter 回调列表筛选条件
type EventFilter struct {
	Provider string
	OrderNo  string
	TradeNo  string
	Verified *bool
	Query    string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// scope 将筛选条件应用到查询
func (f EventFilter) scope(q *gorm.DB) *gorm.DB {
	if f.Provider != "" {
		q = q.Where("provider = ?", f.Provider)
	}
	if f.OrderNo != "" {
		q = q.Where("order_no = ?", f.OrderNo)
	}
	if f.TradeNo != "" {
		q = q.Where("trade_no = ? OR reported_trade_no = ?", f.TradeNo, f.TradeNo)
	}
	if f.Verified != nil {
		q = q.Where("verified = ?", *f.Verified)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		// 原始报文未脱敏，不参与模糊搜索
		q = q.Where("order_no LIKE ? OR reported_trade_no LIKE ? OR error_message LIKE ?", like, like, like)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}
	return q
}

// ListEvents 分页查询回调记录，按时间倒序
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]CallbackEvent, int64, error) {
	var total int64
	if err := s.conn(ctx).Model(&CallbackEvent{}).Scopes(f.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 200 {
		size = 20
	}

	var events []CallbackEvent
	err := s.conn(ctx).Scopes(f.scope).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&events).Error
	return events, total, err
}

// EventStats 回调统计
type EventStats struct {
	Total    int64
	Verified int64
	Failed   int64
}

// CountEvents 统计 since 之后的回调数量
func (s *Store) CountEvents(ctx context.Context, since time.Time) (EventStats, error) {
	var rows []struct {
		Verified bool
		Total    int64
	}
	err := s.conn(ctx).Model(&CallbackEvent{}).
		Select("verified, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Group("verified").
		Scan(&rows).Error
	if err != nil {
		return EventStats{}, err
	}

	var stats EventStats
	for _, r := range rows {
		stats.Total += r.Total
		if r.Verified {
			stats.Verified += r.Total
		} else {
			stats.Failed += r.Total
		}
	}
	return stats, nil
}
