// Package providers 校验各支付渠道的异步通知并归一化为统一事件
package providers

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"market-pay/conf"
)

// 失败分类，写入回调记录的 error_message 前缀
const (
	ReasonSignatureFailed = "signature_failed"
	ReasonDecryptFailed   = "decrypt_failed"
	ReasonInvalidPayload  = "invalid_payload"
	ReasonAmountMismatch  = "amount_mismatch"
	ReasonOrderNotFound   = "order_not_found"
	ReasonOrderNotPayable = "order_not_payable"
	ReasonEffectFailed    = "effect_failed"
	reasonTradeStatus     = "trade_status_"
)

// TradeStatusReason 非成功交易状态的分类
func TradeStatusReason(status string) string {
	return reasonTradeStatus + strings.ToLower(status)
}

// Notification 渠道推送的原始通知
type Notification struct {
	Body   []byte
	Header http.Header
	Query  url.Values
	Form   url.Values
}

// Params 合并 query 与 form 参数，form 优先
func (n *Notification) Params() map[string]string {
	params := make(map[string]string, len(n.Query)+len(n.Form))
	for k, v := range n.Query {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	for k, v := range n.Form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

// Raw 用于审计留存的原始报文
func (n *Notification) Raw() string {
	if len(n.Body) > 0 {
		return string(n.Body)
	}
	return n.Query.Encode()
}

// Event 归一化后的回调事件
type Event struct {
	Provider      string
	OrderNo       string
	TradeNo       string
	PaymentMethod string
	Amount        decimal.Decimal
	TradeStatus   string
}

// VerifyResult 校验结果
//
// Authentic 表示签名或密文校验通过；Success 表示渠道报告支付成功；
// Terminal 表示渠道报告交易已关闭或失败。
type VerifyResult struct {
	Authentic bool
	Success   bool
	Terminal  bool
	Event     Event
	Reason    string
	Raw       string
}

func rejected(provider, reason string, n *Notification) *VerifyResult {
	return &VerifyResult{Event: Event{Provider: provider}, Reason: reason, Raw: n.Raw()}
}

// Verifier 渠道通知校验器，仅做 CPU 计算，可并发调用
type Verifier interface {
	Name() string
	Verify(ctx context.Context, n *Notification) *VerifyResult
}

// Canonicalize 按键名排序拼接 k=v&k=v，跳过空值与排除键
func Canonicalize(params map[string]string, exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || skip[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Registry 按渠道名查找校验器
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry 注册校验器
func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier, len(verifiers))}
	for _, v := range verifiers {
		r.verifiers[v.Name()] = v
	}
	return r
}

// Get 查找校验器
func (r *Registry) Get(name string) (Verifier, bool) {
	v, ok := r.verifiers[name]
	return v, ok
}

// Names 已注册渠道
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig 按配置创建全部渠道校验器
func FromConfig(cfg *conf.Config, certs *CertStore) (*Registry, error) {
	alipay, err := NewAlipay(cfg.Alipay)
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		alipay,
		NewWebhook(cfg.Webhook),
		NewWechat(cfg.Wechat, certs),
		NewIkunpay(cfg.Ikunpay),
		NewStripe(cfg.Stripe),
	), nil
}
