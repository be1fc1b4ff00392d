package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-pay/biz/providers"
	"market-pay/common"
	"market-pay/db"
)

// 对账诊断结论
const (
	DiagnosisNoCallback         = "no_callback"
	DiagnosisAmountMismatch     = "amount_mismatch"
	DiagnosisDecryptFailed      = "decrypt_failed"
	DiagnosisSignatureFailed    = "signature_failed"
	DiagnosisPaidWithoutSuccess = "paid_without_success_callback"
	DiagnosisSuccessButNotPaid  = "success_callback_but_order_not_paid"
	DiagnosisConsistent         = "consistent"
	DiagnosisAwaitingCallback   = "awaiting_callback"
)

// Diagnosis 单个订单的对账结论，仅供运营排查
type Diagnosis struct {
	OrderNo        string            `json:"order_no"`
	Status         string            `json:"status"`
	Diagnosis      string            `json:"diagnosis"`
	ExpectedAmount decimal.Decimal   `json:"expected_amount"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	EventCount     int               `json:"event_count"`
	LatestEvent    *db.CallbackEvent `json:"latest_event,omitempty"`
	VerifiedEvent  *db.CallbackEvent `json:"verified_event,omitempty"`
}

// Diagnose 按规则顺序给出结论；events 需按时间正序
func Diagnose(order *db.Order, events []db.CallbackEvent) Diagnosis {
	d := Diagnosis{
		OrderNo:        order.OrderNo,
		Status:         string(order.Status),
		ExpectedAmount: order.ActualAmount,
		PaidAt:         order.PaidAt,
		EventCount:     len(events),
	}

	paid := order.Status == db.StatusPaid
	if len(events) == 0 {
		// 已支付但没有任何回调记录
		if paid {
			d.Diagnosis = DiagnosisPaidWithoutSuccess
		} else {
			d.Diagnosis = DiagnosisNoCallback
		}
		return d
	}

	latest := events[len(events)-1]
	d.LatestEvent = &latest
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Verified {
			verified := events[i]
			d.VerifiedEvent = &verified
			break
		}
	}

	if !latest.Verified {
		if diagnosis := failureDiagnosis(latest.ErrorMessage); diagnosis != "" {
			d.Diagnosis = diagnosis
			return d
		}
	}

	switch {
	case paid && d.VerifiedEvent == nil:
		d.Diagnosis = DiagnosisPaidWithoutSuccess
	case !paid && d.VerifiedEvent != nil:
		d.Diagnosis = DiagnosisSuccessButNotPaid
	case paid:
		d.Diagnosis = DiagnosisConsistent
	default:
		d.Diagnosis = DiagnosisAwaitingCallback
	}
	return d
}

// failurePrefixes 失败原因的分类前缀；中文前缀兼容历史导入的记录
var failurePrefixes = []struct {
	prefix    string
	diagnosis string
}{
	{providers.ReasonAmountMismatch, DiagnosisAmountMismatch},
	{providers.ReasonDecryptFailed, DiagnosisDecryptFailed},
	{providers.ReasonSignatureFailed, DiagnosisSignatureFailed},
	{"金额", DiagnosisAmountMismatch},
	{"解密失败", DiagnosisDecryptFailed},
	{"验签失败", DiagnosisSignatureFailed},
}

// failureDiagnosis 只看原因的分类前缀，详情里出现的字段名不参与判断
func failureDiagnosis(reason string) string {
	reason = strings.ToLower(strings.TrimSpace(reason))
	for _, f := range failurePrefixes {
		if strings.HasPrefix(reason, f.prefix) {
			return f.diagnosis
		}
	}
	return ""
}

// ReconcileService 对账诊断，只读
type ReconcileService struct {
	store *db.Store
}

// NewReconcileService 创建对账服务
func NewReconcileService(store *db.Store) *ReconcileService {
	return &ReconcileService{store: store}
}

// Reconcile 加载订单与回调记录并诊断
func (s *ReconcileService) Reconcile(ctx context.Context, orderNo string) (*Diagnosis, error) {
	order, err := s.store.GetOrder(ctx, orderNo)
	if errors.Is(err, db.ErrNotFound) {
		return nil, common.NewPaymentError(common.KindNotFound, "order %s not found", orderNo)
	}
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListOrderEvents(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	d := Diagnose(order, events)
	return &d, nil
}
