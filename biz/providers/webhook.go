package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"market-pay/conf"
)

// WebhookSignatureHeader 通用 webhook 签名头
const WebhookSignatureHeader = "X-Webhook-Signature"

// Webhook 通用 JSON webhook，HMAC-SHA256 签名
type Webhook struct {
	scheme HMACScheme
}

type webhookPayload struct {
	OrderNo       string          `json:"order_no"`
	TradeNo       string          `json:"trade_no"`
	PaymentMethod string          `json:"payment_method"`
	Amount        json.RawMessage `json:"amount"`
	Status        string          `json:"status,omitempty"`
	Signature     string          `json:"signature,omitempty"`
}

// NewWebhook 创建通用 webhook 校验器
func NewWebhook(cfg conf.WebhookConfig) *Webhook {
	return &Webhook{scheme: HMACScheme{Secret: []byte(cfg.Secret)}}
}

func (w *Webhook) Name() string { return "webhook" }

// SignMessage 签名原文 order_no|trade_no|payment_method|amount
func SignMessage(orderNo, tradeNo, method, amount string) []byte {
	return []byte(orderNo + "|" + tradeNo + "|" + method + "|" + amount)
}

// Sign 计算通用 webhook 签名，供上游测试工具使用
func (w *Webhook) Sign(orderNo, tradeNo, method, amount string) string {
	return w.scheme.Sign(SignMessage(orderNo, tradeNo, method, amount))
}

// amountLiteral 金额按发送方原样参与签名
func amountLiteral(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func (w *Webhook) Verify(_ context.Context, n *Notification) *VerifyResult {
	res := rejected(w.Name(), ReasonInvalidPayload, n)

	var p webhookPayload
	if err := json.Unmarshal(n.Body, &p); err != nil {
		res.Reason = ReasonInvalidPayload + ": malformed json"
		return res
	}
	res.Event.OrderNo = p.OrderNo
	res.Event.TradeNo = p.TradeNo

	signature := p.Signature
	if signature == "" {
		signature = n.Header.Get(WebhookSignatureHeader)
	}
	if signature == "" {
		res.Reason = ReasonSignatureFailed + ": missing signature"
		return res
	}

	literal := amountLiteral(p.Amount)
	if err := w.scheme.Verify(SignMessage(p.OrderNo, p.TradeNo, p.PaymentMethod, literal), signature); err != nil {
		res.Reason = ReasonSignatureFailed + ": " + err.Error()
		return res
	}

	if p.OrderNo == "" || p.TradeNo == "" {
		res.Reason = ReasonInvalidPayload + ": missing order_no or trade_no"
		return res
	}
	amount, err := decimal.NewFromString(literal)
	if err != nil {
		res.Reason = ReasonInvalidPayload + ": amount"
		return res
	}

	res.Authentic = true
	res.Reason = ""
	res.Event.PaymentMethod = p.PaymentMethod
	if res.Event.PaymentMethod == "" {
		res.Event.PaymentMethod = w.Name()
	}
	res.Event.Amount = amount
	res.Event.TradeStatus = strings.ToLower(p.Status)

	switch res.Event.TradeStatus {
	case "", "success", "paid":
		res.Success = true
	case "failed", "closed":
		res.Terminal = true
		res.Reason = TradeStatusReason(res.Event.TradeStatus)
	default:
		res.Reason = TradeStatusReason(res.Event.TradeStatus)
	}
	return res
}
