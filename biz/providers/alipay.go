package providers

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"market-pay/conf"
)

// 支付宝交易状态
const (
	AlipayTradeSuccess = "TRADE_SUCCESS"
	AlipayTradeClosed  = "TRADE_CLOSED"
)

// Alipay 支付宝异步通知（form 编码，RSA2 签名）
type Alipay struct {
	appID  string
	scheme SignatureScheme
}

// NewAlipay 创建支付宝校验器；未配置公钥时所有通知都会被判定为验签失败
func NewAlipay(cfg conf.AlipayConfig) (*Alipay, error) {
	a := &Alipay{appID: cfg.AppID, scheme: RSA2Scheme{}}
	if cfg.PublicKey == "" {
		return a, nil
	}
	key, err := ParseRSAPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}
	a.scheme = RSA2Scheme{Key: key}
	return a, nil
}

func (a *Alipay) Name() string { return "alipay" }

func (a *Alipay) Verify(_ context.Context, n *Notification) *VerifyResult {
	params := n.Params()
	res := rejected(a.Name(), ReasonSignatureFailed, n)
	res.Event.OrderNo = params["out_trade_no"]
	res.Event.TradeNo = params["trade_no"]

	sign := params["sign"]
	if sign == "" {
		res.Reason = ReasonSignatureFailed + ": missing sign"
		return res
	}
	message := Canonicalize(params, "sign", "sign_type")
	if err := a.scheme.Verify([]byte(message), sign); err != nil {
		res.Reason = ReasonSignatureFailed + ": " + err.Error()
		return res
	}

	if a.appID != "" && params["app_id"] != a.appID {
		res.Reason = ReasonInvalidPayload + ": app_id mismatch"
		return res
	}
	if res.Event.OrderNo == "" || res.Event.TradeNo == "" {
		res.Reason = ReasonInvalidPayload + ": missing out_trade_no or trade_no"
		return res
	}
	amount, err := decimal.NewFromString(params["total_amount"])
	if err != nil {
		res.Reason = ReasonInvalidPayload + ": total_amount"
		return res
	}

	res.Authentic = true
	res.Reason = ""
	res.Event.PaymentMethod = a.Name()
	res.Event.Amount = amount
	res.Event.TradeStatus = params["trade_status"]

	switch res.Event.TradeStatus {
	case AlipayTradeSuccess:
		res.Success = true
	case AlipayTradeClosed:
		res.Terminal = true
		res.Reason = TradeStatusReason(res.Event.TradeStatus)
	default:
		res.Reason = TradeStatusReason(res.Event.TradeStatus)
	}
	return res
}
