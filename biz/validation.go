package biz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// 验证常量
const (
	MaxUserIDLength = 128
	MinUserIDLength = 1
	MaxTitleLength  = 128
	MaxURLLength    = 2048
	MaxOrderNoLen   = 64
)

// 订单类型
const (
	OrderTypeService              = "service"
	OrderTypeVIP                  = "vip"
	OrderTypeAIPack               = "ai_pack"
	OrderTypeDocumentGeneratePack = "document_generate_pack"
	OrderTypeLightConsultReview   = "light_consult_review"
)

// RelatedTypeConsultation 审核订单关联的资源类型
const RelatedTypeConsultation = "ai_consultation"

// 支付方式
const (
	MethodAlipay  = "alipay"
	MethodWechat  = "wechat"
	MethodIkunpay = "ikunpay"
	MethodStripe  = "stripe"
	MethodWebhook = "webhook"
	MethodBalance = "balance"
)

var (
	allowedOrderTypes = map[string]bool{
		OrderTypeService:              true,
		OrderTypeVIP:                  true,
		OrderTypeAIPack:               true,
		OrderTypeDocumentGeneratePack: true,
		OrderTypeLightConsultReview:   true,
	}

	allowedPaymentMethods = map[string]bool{
		MethodAlipay:  true,
		MethodWechat:  true,
		MethodIkunpay: true,
		MethodStripe:  true,
		MethodWebhook: true,
		MethodBalance: true,
	}

	// user_id格式：允许字母（包括中文）、数字、下划线、连字符、点号
	userIDPattern = regexp.MustCompile(`^[\p{L}\p{N}._-]+$`)

	orderNoPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ValidationError 验证错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// IsPackOrder 次数包订单
func IsPackOrder(orderType string) bool {
	return orderType == OrderTypeAIPack || orderType == OrderTypeDocumentGeneratePack
}

// ValidateOrderType 验证订单类型（白名单）
func ValidateOrderType(orderType string) error {
	if !allowedOrderTypes[orderType] {
		return &ValidationError{Field: "order_type", Message: fmt.Sprintf("unknown order type %q", orderType)}
	}
	return nil
}

// ValidatePaymentMethod 验证支付方式（白名单）
func ValidatePaymentMethod(method string) error {
	if !allowedPaymentMethods[method] {
		return &ValidationError{Field: "payment_method", Message: fmt.Sprintf("unknown payment method %q", method)}
	}
	return nil
}

// ValidateUserID 验证用户ID格式
func ValidateUserID(userID string) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Message: "user_id is required"}
	}

	length := utf8.RuneCountInString(userID)
	if length < MinUserIDLength || length > MaxUserIDLength {
		return &ValidationError{
			Field:   "user_id",
			Message: fmt.Sprintf("user_id length must be between %d and %d characters", MinUserIDLength, MaxUserIDLength),
		}
	}

	if !userIDPattern.MatchString(userID) {
		return &ValidationError{
			Field:   "user_id",
			Message: "user_id can only contain letters (including Chinese), numbers, underscores, dots, and hyphens",
		}
	}
	return nil
}

// ValidateOrderNo 验证订单号格式
func ValidateOrderNo(orderNo string) error {
	if orderNo == "" || len(orderNo) > MaxOrderNoLen || !orderNoPattern.MatchString(orderNo) {
		return &ValidationError{Field: "order_no", Message: "invalid order_no"}
	}
	return nil
}

// ValidateTitle 验证订单标题
func ValidateTitle(title string) error {
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("title must not exceed %d characters", MaxTitleLength)}
	}
	return nil
}

// ValidateURL 验证跳转地址
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return nil
	}
	if len(urlStr) > MaxURLLength {
		return &ValidationError{Field: "return_url", Message: fmt.Sprintf("URL length must not exceed %d characters", MaxURLLength)}
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return &ValidationError{Field: "return_url", Message: "invalid URL format"}
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{Field: "return_url", Message: "URL must use http or https protocol"}
	}
	return nil
}

// ParseRelatedID 严格解析 related_id
//
// 接受 JSON 整数、数字字符串、整数值的浮点数；布尔值、非数字字符串、
// 小数、非正数一律拒绝。缺省或 null 返回 nil。
func ParseRelatedID(raw json.RawMessage) (*int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	invalid := func(msg string) error {
		return &ValidationError{Field: "related_id", Message: msg}
	}

	var literal string
	switch raw[0] {
	case 't', 'f':
		return nil, invalid("boolean is not a valid identifier")
	case '"':
		if err := json.Unmarshal(raw, &literal); err != nil {
			return nil, invalid("malformed string")
		}
		literal = strings.TrimSpace(literal)
		if literal == "" {
			return nil, nil
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		literal = string(raw)
	default:
		return nil, invalid("must be an integer")
	}

	id, err := parseIntegral(literal)
	if err != nil {
		return nil, invalid(err.Error())
	}
	if id <= 0 {
		return nil, invalid("must be positive")
	}
	return &id, nil
}

func parseIntegral(literal string) (int64, error) {
	if n, err := strconv.ParseInt(literal, 10, 64); err == nil {
		return n, nil
	}

	d, err := decimal.NewFromString(literal)
	if err != nil {
		return 0, fmt.Errorf("%q is not numeric", literal)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%q is not an integer", literal)
	}
	if d.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%q is out of range", literal)
	}
	return d.IntPart(), nil
}

// ParseAmount 解析金额，保留两位小数
func ParseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, nil
	}

	var literal string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &literal); err != nil {
			return decimal.Zero, &ValidationError{Field: "amount", Message: "malformed string"}
		}
	} else {
		literal = string(raw)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(literal))
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Message: "amount must be numeric"}
	}
	return d.Round(2), nil
}
