package providers

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"market-pay/conf"
)

// StripeSignatureHeader Stripe 签名头
const StripeSignatureHeader = "Stripe-Signature"

// Stripe PaymentIntent 事件
type Stripe struct {
	secret string
}

// NewStripe 创建 Stripe 校验器
func NewStripe(cfg conf.StripeConfig) *Stripe {
	return &Stripe{secret: cfg.WebhookSecret}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Verify(_ context.Context, n *Notification) *VerifyResult {
	res := rejected(s.Name(), ReasonSignatureFailed, n)
	if s.secret == "" {
		res.Reason = ReasonSignatureFailed + ": secret not configured"
		return res
	}

	// 忽略 API 版本不匹配，Dashboard 可能使用较新的 API 版本
	event, err := webhook.ConstructEventWithOptions(
		n.Body,
		n.Header.Get(StripeSignatureHeader),
		s.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		res.Reason = ReasonSignatureFailed + ": " + err.Error()
		return res
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		res.Reason = ReasonInvalidPayload + ": " + string(event.Type)
		return res
	}
	res.Event.OrderNo = pi.Metadata["order_no"]
	res.Event.TradeNo = pi.ID
	if res.Event.OrderNo == "" || pi.ID == "" {
		res.Reason = ReasonInvalidPayload + ": missing metadata.order_no"
		return res
	}

	res.Authentic = true
	res.Reason = ""
	res.Event.PaymentMethod = s.Name()
	res.Event.Amount = decimal.New(pi.AmountReceived, -2)
	res.Event.TradeStatus = string(event.Type)

	switch event.Type {
	case "payment_intent.succeeded":
		res.Success = true
	case "payment_intent.payment_failed", "payment_intent.canceled":
		res.Terminal = true
		res.Event.Amount = decimal.New(pi.Amount, -2)
		res.Reason = TradeStatusReason(string(event.Type))
	default:
		res.Reason = TradeStatusReason(string(event.Type))
	}
	return res
}
