package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"market-pay/biz"
	"market-pay/cache"
	"market-pay/common"
	"market-pay/db"
)

// BalanceProvider 余额支付在回调记录中的渠道名
const BalanceProvider = "balance"

// CreateOrderInput 创建订单参数
type CreateOrderInput struct {
	OrderType   string
	Amount      json.RawMessage
	RelatedID   json.RawMessage
	RelatedType string
	Title       string
}

// PayInput 发起支付参数
type PayInput struct {
	OrderNo   string
	UserID    string
	Method    string
	ReturnURL string
}

// PayResult 发起支付结果
type PayResult struct {
	Order       *db.Order
	PayURL      string
	AlreadyPaid bool
}

// OrderService 订单账本
type OrderService struct {
	store    *db.Store
	pricing  *Pricing
	effects  Effects
	locker   cache.Locker
	payURLs  *PayURLBuilder
	cacheTTL time.Duration
	now      func() time.Time
}

// NewOrderService 创建订单服务
func NewOrderService(store *db.Store, pricing *Pricing, effects Effects, locker cache.Locker, payURLs *PayURLBuilder, cacheTTL time.Duration) *OrderService {
	return &OrderService{
		store:    store,
		pricing:  pricing,
		effects:  effects,
		locker:   locker,
		payURLs:  payURLs,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// GenerateOrderNo ORD + 时间戳 + 8 位随机十六进制
func GenerateOrderNo(now time.Time) string {
	return "ORD" + now.Format("20060102150405") + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func validationMessage(err error) string {
	var ve *biz.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return err.Error()
}

// Create 校验顺序：类型 -> related_id -> 类型专属规则 -> 金额
func (s *OrderService) Create(ctx context.Context, userID string, in CreateOrderInput) (*db.Order, error) {
	if err := biz.ValidateOrderType(in.OrderType); err != nil {
		return nil, common.NewPaymentError(common.KindInvalidOrderType, "%s", validationMessage(err))
	}
	relatedID, err := biz.ParseRelatedID(in.RelatedID)
	if err != nil {
		return nil, common.NewPaymentError(common.KindInvalidRelatedID, "%s", validationMessage(err))
	}

	order := &db.Order{
		OrderNo:   GenerateOrderNo(s.now()),
		UserID:    userID,
		OrderType: in.OrderType,
		Title:     in.Title,
		Status:    db.StatusPending,
		RelatedID: relatedID,
	}
	if in.RelatedType != "" {
		order.RelatedType = &in.RelatedType
	}

	amount, err := s.resolveAmount(ctx, userID, order, in.Amount)
	if err != nil {
		return nil, err
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, common.NewPaymentError(common.KindInvalidAmount, "amount must be greater than 0")
	}
	order.Amount = amount
	order.ActualAmount = amount

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	zap.L().Info("Order created",
		zap.String("order_no", order.OrderNo),
		zap.String("user_id", userID),
		zap.String("order_type", order.OrderType),
		zap.String("amount", order.Amount.StringFixed(2)))
	return order, nil
}

func callerAmount(raw json.RawMessage) (decimal.Decimal, error) {
	amount, err := biz.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, common.NewPaymentError(common.KindInvalidAmount, "%s", validationMessage(err))
	}
	return amount, nil
}

// resolveAmount 次数包以价格表为准，其余类型优先使用配置价格
func (s *OrderService) resolveAmount(ctx context.Context, userID string, order *db.Order, raw json.RawMessage) (decimal.Decimal, error) {
	if biz.IsPackOrder(order.OrderType) {
		if order.RelatedID == nil {
			return decimal.Zero, common.NewPaymentError(common.KindInvalidPackSize, "related_id (pack size) is required")
		}
		price, ok, err := s.pricing.PackPrice(ctx, order.OrderType, *order.RelatedID)
		if err != nil {
			return decimal.Zero, err
		}
		if !ok {
			return decimal.Zero, common.NewPaymentError(common.KindInvalidPackSize, "pack size %d is not available", *order.RelatedID)
		}
		return price, nil
	}

	switch order.OrderType {
	case biz.OrderTypeLightConsultReview:
		if order.RelatedType != nil && *order.RelatedType != biz.RelatedTypeConsultation {
			return decimal.Zero, common.NewPaymentError(common.KindInvalidRelatedID, "related_type must be %s", biz.RelatedTypeConsultation)
		}
		if order.RelatedID == nil {
			return decimal.Zero, common.NewPaymentError(common.KindMissingConsultationID, "related_id (consultation id) is required")
		}
		consultation, err := s.store.GetConsultation(ctx, *order.RelatedID)
		if errors.Is(err, db.ErrNotFound) {
			return decimal.Zero, common.NewPaymentError(common.KindConsultationNotFound, "consultation %d not found", *order.RelatedID)
		}
		if err != nil {
			return decimal.Zero, err
		}
		if consultation.UserID != userID {
			return decimal.Zero, common.NewPaymentError(common.KindNotOwner, "consultation %d does not belong to the user", *order.RelatedID)
		}
		relatedType := biz.RelatedTypeConsultation
		order.RelatedType = &relatedType
		return s.configuredOrCaller(ctx, ConfigLightConsultReviewPrice, raw)

	case biz.OrderTypeVIP:
		return s.configuredOrCaller(ctx, ConfigVIPPrice, raw)

	default:
		return callerAmount(raw)
	}
}

func (s *OrderService) configuredOrCaller(ctx context.Context, key string, raw json.RawMessage) (decimal.Decimal, error) {
	price, ok, err := s.pricing.FixedPrice(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return price, nil
	}
	return callerAmount(raw)
}

func (s *OrderService) userOrder(ctx context.Context, orderNo, userID string) (*db.Order, error) {
	order, err := s.store.GetUserOrder(ctx, orderNo, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, common.NewPaymentError(common.KindNotFound, "order %s not found", orderNo)
	}
	return order, err
}

// Get 查询订单，优先读 Redis 快照
func (s *OrderService) Get(ctx context.Context, orderNo, userID string) (*db.Order, error) {
	var cached db.Order
	if hit, err := cache.GetJSON(ctx, cache.OrderKey(orderNo), &cached); err == nil && hit {
		common.RecordRedisOperation("get_order", "hit")
		if cached.UserID == userID {
			return &cached, nil
		}
	}

	order, err := s.userOrder(ctx, orderNo, userID)
	if err != nil {
		return nil, err
	}
	if s.cacheTTL > 0 {
		if err := cache.SetJSON(ctx, cache.OrderKey(orderNo), order, s.cacheTTL); err != nil {
			common.RecordRedisOperation("set_order", "error")
		}
	}
	return order, nil
}

// invalidateOrder 状态迁移后清理快照
func invalidateOrder(ctx context.Context, orderNo string) {
	if err := cache.Delete(ctx, cache.OrderKey(orderNo)); err != nil {
		common.RecordRedisOperation("delete_order", "error")
	}
}

// acquireOrderLock 获取订单锁，失败视为可重试错误
func acquireOrderLock(ctx context.Context, locker cache.Locker, orderNo string) (cache.Lock, error) {
	lock, err := locker.Acquire(ctx, cache.OrderLockKey(orderNo))
	if err != nil {
		common.RecordLockAcquire(locker.Name(), "failed")
		return nil, common.Transient(err, "order %s is busy, retry later", orderNo)
	}
	common.RecordLockAcquire(locker.Name(), "acquired")
	return lock, nil
}

func releaseOrderLock(ctx context.Context, lock cache.Lock, orderNo string) {
	if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
		zap.L().Warn("Failed to release order lock", zap.String("order_no", orderNo), zap.Error(err))
	}
}

// Cancel 仅待支付订单可取消
func (s *OrderService) Cancel(ctx context.Context, orderNo, userID string) (*db.Order, error) {
	order, err := s.userOrder(ctx, orderNo, userID)
	if err != nil {
		return nil, err
	}
	if order.Status != db.StatusPending {
		return nil, common.NewPaymentError(common.KindInvalidState, "order %s is %s", orderNo, order.Status)
	}

	lock, err := acquireOrderLock(ctx, s.locker, orderNo)
	if err != nil {
		return nil, err
	}
	defer releaseOrderLock(ctx, lock, orderNo)

	ok, err := s.store.TransitionFromPending(ctx, orderNo, db.StatusCancelled)
	if err != nil {
		return nil, err
	}
	invalidateOrder(ctx, orderNo)
	if !ok {
		current, err := s.store.GetOrder(ctx, orderNo)
		if err != nil {
			return nil, err
		}
		return nil, common.NewPaymentError(common.KindInvalidState, "order %s is %s", orderNo, current.Status)
	}

	common.RecordTransition(string(db.StatusPending), string(db.StatusCancelled))
	zap.L().Info("Order cancelled", zap.String("order_no", orderNo), zap.String("user_id", userID))
	order.Status = db.StatusCancelled
	return order, nil
}

// Pay 发起支付；已支付订单直接返回，不再调用渠道
func (s *OrderService) Pay(ctx context.Context, in PayInput) (*PayResult, error) {
	order, err := s.userOrder(ctx, in.OrderNo, in.UserID)
	if err != nil {
		return nil, err
	}
	if order.Status == db.StatusPaid {
		return &PayResult{Order: order, AlreadyPaid: true}, nil
	}
	if order.Status != db.StatusPending {
		return nil, common.NewPaymentError(common.KindInvalidState, "order %s is %s", in.OrderNo, order.Status)
	}

	if err := biz.ValidatePaymentMethod(in.Method); err != nil {
		return nil, common.NewPaymentError(common.KindInvalidPaymentMethod, "%s", validationMessage(err))
	}
	enabled, err := s.pricing.MethodEnabled(ctx, in.Method)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, common.NewPaymentError(common.KindInvalidPaymentMethod, "payment method %s is disabled", in.Method)
	}

	if in.Method == biz.MethodBalance {
		return s.payWithBalance(ctx, order)
	}

	ok, err := s.store.SetPaymentMethod(ctx, order.OrderNo, in.Method)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 期间被回调或取消改变了状态
		current, err := s.store.GetOrder(ctx, order.OrderNo)
		if err != nil {
			return nil, err
		}
		if current.Status == db.StatusPaid {
			return &PayResult{Order: current, AlreadyPaid: true}, nil
		}
		return nil, common.NewPaymentError(common.KindInvalidState, "order %s is %s", in.OrderNo, current.Status)
	}
	invalidateOrder(ctx, order.OrderNo)
	order.PaymentMethod = &in.Method

	payURL, err := s.payURLs.Build(in.Method, order, in.ReturnURL)
	if err != nil {
		return nil, err
	}
	return &PayResult{Order: order, PayURL: payURL}, nil
}

// payWithBalance 扣余额、迁移状态、发放权益在同一事务中完成
func (s *OrderService) payWithBalance(ctx context.Context, order *db.Order) (*PayResult, error) {
	lock, err := acquireOrderLock(ctx, s.locker, order.OrderNo)
	if err != nil {
		return nil, err
	}
	defer releaseOrderLock(ctx, lock, order.OrderNo)

	tradeNo := "BAL" + order.OrderNo
	alreadyPaid := false
	var paid *db.Order

	err = s.store.Exec(ctx, func(ctx context.Context) error {
		current, err := s.store.GetOrder(ctx, order.OrderNo)
		if err != nil {
			return err
		}
		if current.Status == db.StatusPaid {
			alreadyPaid = true
			paid = current
			return nil
		}
		if current.Status != db.StatusPending {
			return common.NewPaymentError(common.KindInvalidState, "order %s is %s", order.OrderNo, current.Status)
		}

		if _, err := s.store.LockAccount(ctx, current.UserID); err != nil {
			return err
		}
		debited, err := s.store.DebitBalance(ctx, current.UserID, current.ActualAmount)
		if err != nil {
			return err
		}
		if !debited {
			return common.NewPaymentError(common.KindInsufficientBalance, "insufficient balance for %s", current.ActualAmount.StringFixed(2))
		}

		paidAt := s.now()
		marked, err := s.store.MarkPaid(ctx, current.OrderNo, tradeNo, biz.MethodBalance, paidAt)
		if err != nil {
			return err
		}
		if !marked {
			return common.NewPaymentError(common.KindInvalidState, "order %s is no longer pending", order.OrderNo)
		}
		method := biz.MethodBalance
		current.Status = db.StatusPaid
		current.TradeNo = &tradeNo
		current.PaymentMethod = &method
		current.PaidAt = &paidAt

		if err := s.store.InsertCallbackEvent(ctx, &db.CallbackEvent{
			Provider:        BalanceProvider,
			OrderNo:         current.OrderNo,
			TradeNo:         &tradeNo,
			ReportedTradeNo: tradeNo,
			PaymentMethod:   biz.MethodBalance,
			Amount:          current.ActualAmount,
			Verified:        true,
			RawPayload:      `{"source":"balance"}`,
		}); err != nil {
			return err
		}
		if err := s.effects.Apply(ctx, current); err != nil {
			return common.NewPaymentError(common.KindInternal, "apply effect: %v", err)
		}
		paid = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyPaid {
		common.RecordTransition(string(db.StatusPending), string(db.StatusPaid))
		invalidateOrder(ctx, order.OrderNo)
		zap.L().Info("Order paid with balance",
			zap.String("order_no", order.OrderNo),
			zap.String("user_id", order.UserID),
			zap.String("amount", order.ActualAmount.StringFixed(2)))
	}
	return &PayResult{Order: paid, AlreadyPaid: alreadyPaid}, nil
}
