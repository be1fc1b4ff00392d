package providers

import (
	"context"

	"github.com/shopspring/decimal"

	"market-pay/conf"
)

// Ikunpay 易支付类聚合渠道，MD5 密钥签名，参数走 query 或 form
type Ikunpay struct {
	pid    string
	scheme MD5KeyScheme
}

// NewIkunpay 创建校验器
func NewIkunpay(cfg conf.IkunpayConfig) *Ikunpay {
	return &Ikunpay{pid: cfg.PID, scheme: MD5KeyScheme{Key: cfg.Key}}
}

func (p *Ikunpay) Name() string { return "ikunpay" }

// Sign 计算参数签名
func (p *Ikunpay) Sign(params map[string]string) string {
	return p.scheme.Sign([]byte(Canonicalize(params, "sign", "sign_type")))
}

func (p *Ikunpay) Verify(_ context.Context, n *Notification) *VerifyResult {
	params := n.Params()
	res := rejected(p.Name(), ReasonSignatureFailed, n)
	res.Event.OrderNo = params["out_trade_no"]
	res.Event.TradeNo = params["trade_no"]

	sign := params["sign"]
	if sign == "" {
		res.Reason = ReasonSignatureFailed + ": missing sign"
		return res
	}
	message := Canonicalize(params, "sign", "sign_type")
	if err := p.scheme.Verify([]byte(message), sign); err != nil {
		res.Reason = ReasonSignatureFailed + ": " + err.Error()
		return res
	}

	if p.pid != "" && params["pid"] != p.pid {
		res.Reason = ReasonInvalidPayload + ": pid mismatch"
		return res
	}
	if res.Event.OrderNo == "" || res.Event.TradeNo == "" {
		res.Reason = ReasonInvalidPayload + ": missing out_trade_no or trade_no"
		return res
	}
	amount, err := decimal.NewFromString(params["money"])
	if err != nil {
		res.Reason = ReasonInvalidPayload + ": money"
		return res
	}

	res.Authentic = true
	res.Reason = ""
	res.Event.PaymentMethod = p.Name()
	res.Event.Amount = amount
	res.Event.TradeStatus = params["trade_status"]
	if res.Event.TradeStatus == AlipayTradeSuccess {
		res.Success = true
	} else {
		res.Reason = TradeStatusReason(res.Event.TradeStatus)
	}
	return res
}
