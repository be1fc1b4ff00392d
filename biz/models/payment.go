package models

import (
	"encoding/json"
	"time"
)

// 订单与回调相关请求和响应模型

// CreateOrderRequest 创建订单请求
//
// amount 与 related_id 保留原始 JSON，由业务层严格解析
type CreateOrderRequest struct {
	OrderType   string          `json:"order_type"`             // 订单类型（必填）
	Amount      json.RawMessage `json:"amount,omitempty"`       // 金额，次数包订单以价格表为准
	RelatedID   json.RawMessage `json:"related_id,omitempty"`   // 次数包大小或咨询ID
	RelatedType string          `json:"related_type,omitempty"` // 关联资源类型
	Title       string          `json:"title,omitempty"`        // 订单标题
}

// PayOrderRequest 发起支付请求
type PayOrderRequest struct {
	OrderNo       string `path:"order_no"`
	PaymentMethod string `json:"payment_method"`       // alipay, wechat, ikunpay, stripe, balance
	ReturnURL     string `json:"return_url,omitempty"` // 可选：支付完成后跳转地址
}

// PayOrderResponse 发起支付响应
type PayOrderResponse struct {
	OrderNo       string `json:"order_no"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	PayURL        string `json:"pay_url,omitempty"`
	AlreadyPaid   bool   `json:"already_paid,omitempty"`
	TradeNo       string `json:"trade_no,omitempty"`
}

// ImportCertRequest 手动导入微信平台证书
type ImportCertRequest struct {
	SerialNo string `json:"serial_no,omitempty"` // 可选：缺省时从证书中读取
	PEM      string `json:"pem"`
}

// UpdateConfigRequest 更新系统配置
type UpdateConfigRequest struct {
	Value string `json:"value"`
}

// CallbackEventView 管理端回调记录（原始报文已脱敏）
type CallbackEventView struct {
	ID            uint64    `json:"id"`
	Provider      string    `json:"provider"`
	OrderNo       string    `json:"order_no"`
	TradeNo       string    `json:"trade_no,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	Amount        string    `json:"amount"`
	Verified      bool      `json:"verified"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	RawPayload    string    `json:"raw_payload"`
	CreatedAt     time.Time `json:"created_at"`
}

// CallbackStatsResponse 回调统计
type CallbackStatsResponse struct {
	Hours        int              `json:"hours"`
	Total        int64            `json:"all_total"`
	Verified     int64            `json:"all_verified"`
	Failed       int64            `json:"all_failed"`
	OrderStatus  map[string]int64 `json:"order_status"`
	SuccessRatio float64          `json:"success_ratio"`
}

// NotifyAck JSON 回调应答
type NotifyAck struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
