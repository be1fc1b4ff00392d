package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"market-pay/biz/providers"
	"market-pay/cache"
	"market-pay/common"
	"market-pay/db"
)

// 回调处理结果
const (
	OutcomePaid         = "paid"
	OutcomeAlreadyPaid  = "already_paid"
	OutcomeDuplicate    = "duplicate"
	OutcomeAcknowledged = "acknowledged"
	OutcomeRejected     = "rejected"
	OutcomeMismatch     = "amount_mismatch"
	OutcomeNotFound     = "order_not_found"
	OutcomeNotPayable   = "order_not_payable"
	OutcomeTransient    = "transient"
	OutcomeError        = "error"
)

// ProcessOutcome 回调处理结果；Success 决定给渠道的应答
type ProcessOutcome struct {
	Outcome string
	Success bool
	OrderNo string
	TradeNo string
	Reason  string
}

var (
	errDuplicateEvent = errors.New("callback event already recorded")
	// errLostRace 并发投递已先一步写入记录或迁移订单
	errLostRace = errors.New("concurrent delivery won the race")
)

type effectError struct{ err error }

func (e *effectError) Error() string { return "apply effect: " + e.err.Error() }
func (e *effectError) Unwrap() error { return e.err }

// CallbackProcessor 幂等回调处理：验签 -> 去重 -> 加锁 -> 事务内迁移与发放权益
type CallbackProcessor struct {
	store    *db.Store
	registry *providers.Registry
	effects  Effects
	locker   cache.Locker
	now      func() time.Time
}

// NewCallbackProcessor 创建回调处理器
func NewCallbackProcessor(store *db.Store, registry *providers.Registry, effects Effects, locker cache.Locker) *CallbackProcessor {
	return &CallbackProcessor{
		store:    store,
		registry: registry,
		effects:  effects,
		locker:   locker,
		now:      time.Now,
	}
}

// Process 处理一条渠道通知
//
// 返回 error 时不应给渠道确认：Transient 对应 503，其余对应 500，渠道会重投。
func (p *CallbackProcessor) Process(ctx context.Context, provider string, n *providers.Notification) (*ProcessOutcome, error) {
	start := p.now()
	verifier, ok := p.registry.Get(provider)
	if !ok {
		return nil, common.NewPaymentError(common.KindNotFound, "unknown provider %s", provider)
	}

	res := verifier.Verify(ctx, n)
	outcome, err := p.process(ctx, provider, res)

	label := OutcomeError
	if err != nil {
		if common.IsKind(err, common.KindTransient) {
			label = OutcomeTransient
		}
		zap.L().Error("Callback processing failed",
			zap.String("provider", provider),
			zap.String("order_no", res.Event.OrderNo),
			zap.String("trade_no", res.Event.TradeNo),
			zap.String("outcome", label),
			zap.Error(err))
	} else {
		label = outcome.Outcome
		zap.L().Info("Callback processed",
			zap.String("provider", provider),
			zap.String("order_no", outcome.OrderNo),
			zap.String("trade_no", outcome.TradeNo),
			zap.String("outcome", outcome.Outcome),
			zap.String("reason", outcome.Reason))
	}
	common.RecordCallback(provider, label, time.Since(start))
	return outcome, err
}

func (p *CallbackProcessor) process(ctx context.Context, provider string, res *providers.VerifyResult) (*ProcessOutcome, error) {
	ev := res.Event
	outcome := &ProcessOutcome{OrderNo: ev.OrderNo, TradeNo: ev.TradeNo, Reason: res.Reason}

	if !res.Authentic {
		if err := p.record(ctx, provider, res, false, res.Reason); err != nil {
			return nil, err
		}
		outcome.Outcome = OutcomeRejected
		return outcome, nil
	}
	if !res.Success {
		return p.acknowledge(ctx, provider, res, outcome)
	}

	// 幂等键 (provider, trade_no)：锁外先挡掉已完成的重投
	existing, err := p.store.FindEventByTradeNo(ctx, provider, ev.TradeNo)
	switch {
	case err == nil:
		settled, err := p.settled(ctx, existing, ev.OrderNo, outcome)
		if err != nil {
			return nil, err
		}
		if settled {
			return outcome, nil
		}
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	lock, err := acquireOrderLock(ctx, p.locker, ev.OrderNo)
	if err != nil {
		return nil, err
	}
	defer releaseOrderLock(ctx, lock, ev.OrderNo)

	// 落败方重读订单：已支付才确认成功，仍待支付则带着已有记录再迁移一次
	for attempt := 0; attempt < 2; attempt++ {
		out, err := p.transition(ctx, provider, res)
		if !errors.Is(err, errLostRace) {
			return out, err
		}
		order, err := p.store.GetOrder(ctx, ev.OrderNo)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		if order != nil && order.Status == db.StatusPaid {
			return &ProcessOutcome{Outcome: OutcomeDuplicate, Success: true, OrderNo: ev.OrderNo, TradeNo: ev.TradeNo}, nil
		}
	}
	return nil, common.Transient(errLostRace, "order %s changed concurrently", ev.OrderNo)
}

// settled 幂等键已存在时判断能否直接应答；订单仍待支付时需进入锁内续做
func (p *CallbackProcessor) settled(ctx context.Context, existing *db.CallbackEvent, orderNo string, outcome *ProcessOutcome) (bool, error) {
	outcome.Outcome = OutcomeDuplicate
	if existing.OrderNo != orderNo {
		outcome.Reason = providers.ReasonInvalidPayload + ": trade_no bound to order " + existing.OrderNo
		return true, nil
	}
	order, err := p.store.GetOrder(ctx, orderNo)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return false, err
	}
	if order != nil && order.Status == db.StatusPending {
		outcome.Outcome = ""
		return false, nil
	}
	outcome.Success = order != nil && order.Status == db.StatusPaid
	outcome.Reason = existing.ErrorMessage
	return true, nil
}

// transition 持锁执行：事务内重查幂等键、迁移订单并发放权益
func (p *CallbackProcessor) transition(ctx context.Context, provider string, res *providers.VerifyResult) (*ProcessOutcome, error) {
	ev := res.Event
	outcome := &ProcessOutcome{OrderNo: ev.OrderNo, TradeNo: ev.TradeNo}
	reuse := false
	transitioned := false

	err := p.store.Exec(ctx, func(ctx context.Context) error {
		order, err := p.store.GetOrder(ctx, ev.OrderNo)
		if errors.Is(err, db.ErrNotFound) {
			outcome.Outcome = OutcomeNotFound
			outcome.Reason = providers.ReasonOrderNotFound
			return p.record(ctx, provider, res, false, outcome.Reason)
		}
		if err != nil {
			return err
		}

		existing, err := p.store.FindEventByTradeNo(ctx, provider, ev.TradeNo)
		switch {
		case err == nil:
			if existing.OrderNo != order.OrderNo {
				outcome.Outcome = OutcomeDuplicate
				outcome.Reason = providers.ReasonInvalidPayload + ": trade_no bound to order " + existing.OrderNo
				return nil
			}
			// 已验证但权益发放失败的记录，续做迁移，不再追加
			reuse = true
		case !errors.Is(err, db.ErrNotFound):
			return err
		}

		switch order.Status {
		case db.StatusPaid:
			outcome.Success = true
			if reuse {
				outcome.Outcome = OutcomeDuplicate
				return nil
			}
			outcome.Outcome = OutcomeAlreadyPaid
			return p.recordVerified(ctx, provider, res, "")
		case db.StatusCancelled, db.StatusFailed:
			outcome.Outcome = OutcomeNotPayable
			outcome.Reason = providers.ReasonOrderNotPayable + ": " + string(order.Status)
			return p.record(ctx, provider, res, false, outcome.Reason)
		}

		if !ev.Amount.Equal(order.ActualAmount) {
			outcome.Outcome = OutcomeMismatch
			outcome.Reason = providers.ReasonAmountMismatch
			zap.L().Warn("Callback amount mismatch",
				zap.String("provider", provider),
				zap.String("order_no", order.OrderNo),
				zap.String("expected", order.ActualAmount.StringFixed(2)),
				zap.String("got", ev.Amount.StringFixed(2)))
			return p.record(ctx, provider, res, false, outcome.Reason)
		}

		if !reuse {
			if err := p.recordVerified(ctx, provider, res, ""); err != nil {
				return err
			}
		}

		paidAt := p.now()
		marked, err := p.store.MarkPaid(ctx, order.OrderNo, ev.TradeNo, ev.PaymentMethod, paidAt)
		if err != nil {
			return err
		}
		if !marked {
			return errLostRace
		}
		order.Status = db.StatusPaid
		order.TradeNo = &ev.TradeNo
		order.PaymentMethod = &ev.PaymentMethod
		order.PaidAt = &paidAt

		if err := p.effects.Apply(ctx, order); err != nil {
			return &effectError{err: err}
		}
		outcome.Outcome = OutcomePaid
		outcome.Success = true
		transitioned = true
		return nil
	})

	var effErr *effectError
	switch {
	case errors.Is(err, errDuplicateEvent):
		return nil, errLostRace
	case errors.As(err, &effErr):
		// 事务已回滚，订单保持待支付；持锁在事务外保留已验证记录供重投续做
		if !reuse {
			if recErr := p.recordVerified(ctx, provider, res, providers.ReasonEffectFailed+": "+effErr.err.Error()); recErr != nil && !errors.Is(recErr, errDuplicateEvent) {
				zap.L().Error("Failed to record verified callback after effect failure",
					zap.String("order_no", ev.OrderNo), zap.Error(recErr))
			}
		}
		return nil, &common.PaymentError{Kind: common.KindInternal, Message: "effect failed for order " + ev.OrderNo, Err: effErr}
	case err != nil:
		return nil, err
	}

	if transitioned {
		common.RecordTransition(string(db.StatusPending), string(db.StatusPaid))
		invalidateOrder(ctx, ev.OrderNo)
	}
	return outcome, nil
}

// acknowledge 真实但非成功的通知：记录，终态失败时将待支付订单置为 failed
func (p *CallbackProcessor) acknowledge(ctx context.Context, provider string, res *providers.VerifyResult, outcome *ProcessOutcome) (*ProcessOutcome, error) {
	outcome.Outcome = OutcomeAcknowledged
	outcome.Success = true
	if !res.Terminal || res.Event.OrderNo == "" {
		if err := p.record(ctx, provider, res, false, res.Reason); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	lock, err := acquireOrderLock(ctx, p.locker, res.Event.OrderNo)
	if err != nil {
		return nil, err
	}
	defer releaseOrderLock(ctx, lock, res.Event.OrderNo)

	failed := false
	err = p.store.Exec(ctx, func(ctx context.Context) error {
		if err := p.record(ctx, provider, res, false, res.Reason); err != nil {
			return err
		}
		ok, err := p.store.TransitionFromPending(ctx, res.Event.OrderNo, db.StatusFailed)
		failed = ok
		return err
	})
	if err != nil {
		return nil, err
	}
	if failed {
		common.RecordTransition(string(db.StatusPending), string(db.StatusFailed))
		invalidateOrder(ctx, res.Event.OrderNo)
	}
	return outcome, nil
}

// record 追加不占用幂等键的回调记录
func (p *CallbackProcessor) record(ctx context.Context, provider string, res *providers.VerifyResult, verified bool, reason string) error {
	return p.store.InsertCallbackEvent(ctx, &db.CallbackEvent{
		Provider:        provider,
		OrderNo:         res.Event.OrderNo,
		ReportedTradeNo: res.Event.TradeNo,
		PaymentMethod:   res.Event.PaymentMethod,
		Amount:          res.Event.Amount,
		Verified:        verified,
		ErrorMessage:    truncate(reason, 255),
		RawPayload:      res.Raw,
	})
}

// recordVerified 追加占用幂等键的已验证记录；冲突时返回 errDuplicateEvent
func (p *CallbackProcessor) recordVerified(ctx context.Context, provider string, res *providers.VerifyResult, reason string) error {
	tradeNo := res.Event.TradeNo
	err := p.store.InsertCallbackEvent(ctx, &db.CallbackEvent{
		Provider:        provider,
		OrderNo:         res.Event.OrderNo,
		TradeNo:         &tradeNo,
		ReportedTradeNo: tradeNo,
		PaymentMethod:   res.Event.PaymentMethod,
		Amount:          res.Event.Amount,
		Verified:        true,
		ErrorMessage:    truncate(reason, 255),
		RawPayload:      res.Raw,
	})
	if db.IsDuplicateKey(err) {
		return errDuplicateEvent
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
