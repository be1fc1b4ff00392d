package providers

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"market-pay/conf"
)

// 微信支付 v3 通知头
const (
	WechatSerialHeader    = "Wechatpay-Serial"
	WechatSignatureHeader = "Wechatpay-Signature"
	WechatTimestampHeader = "Wechatpay-Timestamp"
	WechatNonceHeader     = "Wechatpay-Nonce"
)

// wechatTimestampWindow 通知时间戳允许的偏差
const wechatTimestampWindow = 5 * time.Minute

var wechatTerminalStates = map[string]bool{
	"CLOSED":   true,
	"REVOKED":  true,
	"PAYERROR": true,
}

// Wechat 微信支付 v3 通知：先验平台证书签名，再解密 resource
type Wechat struct {
	mchID    string
	apiV3Key []byte
	certs    *CertStore
	now      func() time.Time
}

type wechatEnvelope struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		Algorithm      string `json:"algorithm"`
		Ciphertext     string `json:"ciphertext"`
		AssociatedData string `json:"associated_data"`
		Nonce          string `json:"nonce"`
		OriginalType   string `json:"original_type"`
	} `json:"resource"`
}

type wechatTransaction struct {
	AppID         string `json:"appid"`
	MchID         string `json:"mchid"`
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	SuccessTime   string `json:"success_time"`
	Amount        struct {
		Total    int64  `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

// NewWechat 创建微信支付校验器
func NewWechat(cfg conf.WechatConfig, certs *CertStore) *Wechat {
	return &Wechat{
		mchID:    cfg.MchID,
		apiV3Key: []byte(cfg.APIv3Key),
		certs:    certs,
		now:      time.Now,
	}
}

func (w *Wechat) Name() string { return "wechat" }

func (w *Wechat) Verify(ctx context.Context, n *Notification) *VerifyResult {
	res := rejected(w.Name(), ReasonSignatureFailed, n)

	serial := n.Header.Get(WechatSerialHeader)
	signature := n.Header.Get(WechatSignatureHeader)
	timestamp := n.Header.Get(WechatTimestampHeader)
	nonce := n.Header.Get(WechatNonceHeader)
	if serial == "" || signature == "" || timestamp == "" || nonce == "" {
		res.Reason = ReasonSignatureFailed + ": missing wechatpay headers"
		return res
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		res.Reason = ReasonSignatureFailed + ": bad timestamp"
		return res
	}
	if skew := w.now().Sub(time.Unix(ts, 0)); skew > wechatTimestampWindow || skew < -wechatTimestampWindow {
		res.Reason = ReasonSignatureFailed + ": timestamp out of window"
		return res
	}

	key, err := w.certs.PublicKey(ctx, serial)
	if err != nil {
		res.Reason = ReasonSignatureFailed + ": " + err.Error()
		return res
	}
	message := timestamp + "\n" + nonce + "\n" + string(n.Body) + "\n"
	if err := (RSA2Scheme{Key: key}).Verify([]byte(message), signature); err != nil {
		res.Reason = ReasonSignatureFailed + ": " + err.Error()
		return res
	}

	var env wechatEnvelope
	if err := json.Unmarshal(n.Body, &env); err != nil {
		res.Reason = ReasonInvalidPayload + ": malformed envelope"
		return res
	}
	r := env.Resource
	plain, err := DecryptAEAD(w.apiV3Key, r.Nonce, r.AssociatedData, r.Ciphertext)
	if err != nil {
		res.Reason = ReasonDecryptFailed + ": " + err.Error()
		return res
	}

	var tx wechatTransaction
	if err := json.Unmarshal(plain, &tx); err != nil {
		res.Reason = ReasonInvalidPayload + ": malformed resource"
		return res
	}
	res.Event.OrderNo = tx.OutTradeNo
	res.Event.TradeNo = tx.TransactionID
	if w.mchID != "" && tx.MchID != w.mchID {
		res.Reason = ReasonInvalidPayload + ": mchid mismatch"
		return res
	}
	if tx.OutTradeNo == "" || tx.TransactionID == "" {
		res.Reason = ReasonInvalidPayload + ": missing out_trade_no or transaction_id"
		return res
	}

	res.Authentic = true
	res.Reason = ""
	res.Event.PaymentMethod = w.Name()
	res.Event.Amount = decimal.New(tx.Amount.Total, -2)
	res.Event.TradeStatus = tx.TradeState

	switch {
	case tx.TradeState == "SUCCESS":
		res.Success = true
	case wechatTerminalStates[tx.TradeState]:
		res.Terminal = true
		res.Reason = TradeStatusReason(tx.TradeState)
	default:
		res.Reason = TradeStatusReason(tx.TradeState)
	}
	return res
}
