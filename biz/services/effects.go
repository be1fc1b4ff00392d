package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"market-pay/biz"
	"market-pay/db"
)

// Effects 订单支付成功后的权益发放，必须在订单状态迁移的同一事务中调用
type Effects interface {
	Apply(ctx context.Context, order *db.Order) error
}

// EffectApplier 按订单类型发放权益
type EffectApplier struct {
	store   *db.Store
	pricing *Pricing
	now     func() time.Time
}

// NewEffectApplier 创建权益发放器
func NewEffectApplier(store *db.Store, pricing *Pricing) *EffectApplier {
	return &EffectApplier{store: store, pricing: pricing, now: time.Now}
}

// Apply 任何错误都会让调用方回滚整个事务
func (e *EffectApplier) Apply(ctx context.Context, order *db.Order) error {
	if !db.InTx(ctx) {
		return errors.New("effects must run inside the order transaction")
	}

	var err error
	switch {
	case biz.IsPackOrder(order.OrderType):
		err = e.creditPack(ctx, order)
	case order.OrderType == biz.OrderTypeVIP:
		err = e.extendVIP(ctx, order)
	case order.OrderType == biz.OrderTypeService:
		err = e.unlockService(ctx, order)
	case order.OrderType == biz.OrderTypeLightConsultReview:
		if err = e.unlockService(ctx, order); err == nil {
			err = e.unlockReview(ctx, order)
		}
	default:
		err = fmt.Errorf("no effect for order type %q", order.OrderType)
	}
	if err != nil {
		return err
	}

	zap.L().Info("Order effect applied",
		zap.String("order_no", order.OrderNo),
		zap.String("order_type", order.OrderType),
		zap.String("user_id", order.UserID))
	return nil
}

// extendVIP 从当前到期时间与现在中较晚者开始叠加
func (e *EffectApplier) extendVIP(ctx context.Context, order *db.Order) error {
	days, err := e.pricing.VIPDurationDays(ctx)
	if err != nil {
		return err
	}
	account, err := e.store.LockAccount(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}

	base := e.now()
	if account.VipExpiresAt != nil && account.VipExpiresAt.After(base) {
		base = *account.VipExpiresAt
	}
	return e.store.SetVipExpiry(ctx, order.UserID, base.AddDate(0, 0, days))
}

func (e *EffectApplier) creditPack(ctx context.Context, order *db.Order) error {
	if order.RelatedID == nil || *order.RelatedID <= 0 {
		return fmt.Errorf("pack order %s has no pack size", order.OrderNo)
	}
	return e.store.AddPackCredits(ctx, order.UserID, order.OrderType, *order.RelatedID)
}

func (e *EffectApplier) unlockService(ctx context.Context, order *db.Order) error {
	snapshot, err := json.Marshal(map[string]interface{}{
		"title":          order.Title,
		"amount":         order.ActualAmount.StringFixed(2),
		"paid_at":        order.PaidAt,
		"payment_method": order.PaymentMethod,
	})
	if err != nil {
		return err
	}
	return e.store.CreateServicePurchase(ctx, &db.ServicePurchase{
		OrderNo:     order.OrderNo,
		UserID:      order.UserID,
		OrderType:   order.OrderType,
		RelatedID:   order.RelatedID,
		RelatedType: order.RelatedType,
		Snapshot:    datatypes.JSON(snapshot),
	})
}

// unlockReview 标记咨询可申请律师审核
func (e *EffectApplier) unlockReview(ctx context.Context, order *db.Order) error {
	if order.RelatedID == nil {
		return fmt.Errorf("review order %s has no consultation", order.OrderNo)
	}
	ok, err := e.store.MarkReviewEligible(ctx, *order.RelatedID, order.OrderNo)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("consultation %d not found", *order.RelatedID)
	}
	return nil
}
