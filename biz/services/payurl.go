package services

import (
	"fmt"
	"net/url"
	"strings"

	"market-pay/biz"
	"market-pay/biz/providers"
	"market-pay/common"
	"market-pay/conf"
	"market-pay/db"
)

// PayURLBuilder 生成跳转到渠道收银台的地址
type PayURLBuilder struct {
	cfg     *conf.Config
	ikunpay *providers.Ikunpay
}

// NewPayURLBuilder 创建收银台地址生成器
func NewPayURLBuilder(cfg *conf.Config) *PayURLBuilder {
	return &PayURLBuilder{cfg: cfg, ikunpay: providers.NewIkunpay(cfg.Ikunpay)}
}

func (b *PayURLBuilder) notifyURL(method string) string {
	base := strings.TrimRight(b.cfg.Payment.PublicBaseURL, "/")
	switch method {
	case biz.MethodAlipay:
		return base + "/payment/alipay/notify"
	case biz.MethodWebhook:
		return base + "/payment/webhook"
	default:
		return base + "/payment/" + method + "/notify"
	}
}

// ReturnURL 前端跳转地址，始终携带 order_no
func (b *PayURLBuilder) ReturnURL(returnURL, orderNo string) (string, error) {
	if returnURL == "" {
		returnURL = b.cfg.Payment.ReturnURL
	}
	if returnURL == "" {
		return "", nil
	}
	u, err := url.Parse(returnURL)
	if err != nil {
		return "", fmt.Errorf("parse return url: %w", err)
	}
	q := u.Query()
	q.Set("order_no", orderNo)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Build 生成收银台地址
func (b *PayURLBuilder) Build(method string, order *db.Order, returnURL string) (string, error) {
	ret, err := b.ReturnURL(returnURL, order.OrderNo)
	if err != nil {
		return "", err
	}

	var gateway string
	params := url.Values{}
	amount := order.ActualAmount.StringFixed(2)

	switch method {
	case biz.MethodAlipay:
		gateway = b.cfg.Alipay.GatewayURL
		params.Set("app_id", b.cfg.Alipay.AppID)
		params.Set("out_trade_no", order.OrderNo)
		params.Set("total_amount", amount)
		params.Set("subject", order.Title)
	case biz.MethodWechat:
		gateway = b.cfg.Wechat.PayURL
		params.Set("out_trade_no", order.OrderNo)
		params.Set("total", order.ActualAmount.Shift(2).StringFixed(0))
	case biz.MethodStripe:
		gateway = b.cfg.Stripe.CheckoutURL
		params.Set("client_reference_id", order.OrderNo)
	case biz.MethodIkunpay:
		gateway = b.cfg.Ikunpay.GatewayURL
		signed := map[string]string{
			"pid":          b.cfg.Ikunpay.PID,
			"out_trade_no": order.OrderNo,
			"notify_url":   b.notifyURL(method),
			"return_url":   ret,
			"name":         order.Title,
			"money":        amount,
		}
		for k, v := range signed {
			params.Set(k, v)
		}
		params.Set("sign", b.ikunpay.Sign(signed))
		params.Set("sign_type", "MD5")
	case biz.MethodWebhook:
		gateway = strings.TrimRight(b.cfg.Payment.PublicBaseURL, "/") + "/payment/orders/" + order.OrderNo
	default:
		return "", common.NewPaymentError(common.KindInvalidPaymentMethod, "method %s has no pay url", method)
	}

	if gateway == "" {
		return "", common.NewPaymentError(common.KindInvalidPaymentMethod, "payment method %s is not configured", method)
	}
	if method != biz.MethodIkunpay {
		params.Set("notify_url", b.notifyURL(method))
		if ret != "" {
			params.Set("return_url", ret)
		}
	}

	sep := "?"
	if strings.Contains(gateway, "?") {
		sep = "&"
	}
	return gateway + sep + params.Encode(), nil
}
