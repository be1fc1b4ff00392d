package biz

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

// TestValidateUserID 测试用户ID验证
func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"有效用户ID-字母数字", "user123", false},
		{"有效用户ID-下划线", "user_123", false},
		{"有效用户ID-中文", "用户123", false},
		{"空用户ID", "", true},
		{"超长用户ID", strings.Repeat("a", MaxUserIDLength+1), true},
		{"包含特殊字符", "user@123", true},
		{"包含空格", "user 123", true},
		{"最大长度", strings.Repeat("a", MaxUserIDLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID(%q) error = %v, wantErr %v", tt.userID, err, tt.wantErr)
			}
		})
	}
}

// TestValidateOrderType 测试订单类型白名单
func TestValidateOrderType(t *testing.T) {
	tests := []struct {
		name      string
		orderType string
		wantErr   bool
	}{
		{"服务", OrderTypeService, false},
		{"会员", OrderTypeVIP, false},
		{"AI次数包", OrderTypeAIPack, false},
		{"文书次数包", OrderTypeDocumentGeneratePack, false},
		{"律师审核", OrderTypeLightConsultReview, false},
		{"未知类型", "recharge", true},
		{"空类型", "", true},
		{"大小写敏感", "VIP", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrderType(tt.orderType)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrderType(%q) error = %v, wantErr %v", tt.orderType, err, tt.wantErr)
			}
		})
	}
}

// TestIsPackOrder 测试次数包判定
func TestIsPackOrder(t *testing.T) {
	tests := []struct {
		name      string
		orderType string
		want      bool
	}{
		{"AI次数包", OrderTypeAIPack, true},
		{"文书次数包", OrderTypeDocumentGeneratePack, true},
		{"会员", OrderTypeVIP, false},
		{"服务", OrderTypeService, false},
		{"律师审核", OrderTypeLightConsultReview, false},
		{"未知类型", "ai_pack_v2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPackOrder(tt.orderType); got != tt.want {
				t.Errorf("IsPackOrder(%q) = %v, want %v", tt.orderType, got, tt.want)
			}
		})
	}
}

// TestParseRelatedID 测试 related_id 严格解析
func TestParseRelatedID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantNil bool
		wantErr bool
	}{
		{"整数", `10`, 10, false, false},
		{"数字字符串", `"42"`, 42, false, false},
		{"带空格的数字字符串", `" 7 "`, 7, false, false},
		{"整数值浮点数", `10.0`, 10, false, false},
		{"整数值浮点字符串", `"5.00"`, 5, false, false},
		{"科学计数法", `1e2`, 100, false, false},
		{"缺省", ``, 0, true, false},
		{"null", `null`, 0, true, false},
		{"空字符串", `""`, 0, true, false},
		{"布尔真", `true`, 0, false, true},
		{"布尔假", `false`, 0, false, true},
		{"非数字字符串", `"abc"`, 0, false, true},
		{"小数", `1.5`, 0, false, true},
		{"小数字符串", `"2.5"`, 0, false, true},
		{"零", `0`, 0, false, true},
		{"负数", `-3`, 0, false, true},
		{"对象", `{"id":1}`, 0, false, true},
		{"数组", `[1]`, 0, false, true},
		{"溢出", `99999999999999999999`, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelatedID(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRelatedID(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("expected *ValidationError, got %T", err)
				}
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("ParseRelatedID(%s) = %d, want nil", tt.raw, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("ParseRelatedID(%s) = %v, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

// TestParseAmount 测试金额解析
func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"数字", `10`, "10", false},
		{"两位小数", `9.99`, "9.99", false},
		{"字符串", `"1.23"`, "1.23", false},
		{"四舍五入", `1.005`, "1.01", false},
		{"缺省", ``, "0", false},
		{"非数字", `"abc"`, "", true},
		{"布尔", `true`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%s) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

// TestValidateURL 测试URL验证
func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"有效HTTP URL", "http://example.com", false},
		{"有效HTTPS URL", "https://example.com/path?query=1", false},
		{"空URL", "", false},
		{"无效协议", "ftp://example.com", true},
		{"javascript协议", "javascript:alert(1)", true},
		{"超长URL", "https://example.com/" + strings.Repeat("a", MaxURLLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// TestValidateOrderNo 测试订单号格式
func TestValidateOrderNo(t *testing.T) {
	tests := []struct {
		name    string
		orderNo string
		wantErr bool
	}{
		{"正常订单号", "ORD20240101120000abcd1234", false},
		{"空订单号", "", true},
		{"包含路径分隔符", "ORD/../1", true},
		{"超长订单号", strings.Repeat("A", MaxOrderNoLen+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrderNo(tt.orderNo)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOrderNo(%q) error = %v, wantErr %v", tt.orderNo, err, tt.wantErr)
			}
		})
	}
}

// TestValidatePaymentMethod 测试支付方式白名单
func TestValidatePaymentMethod(t *testing.T) {
	for _, m := range []string{MethodAlipay, MethodWechat, MethodIkunpay, MethodStripe, MethodWebhook, MethodBalance} {
		if err := ValidatePaymentMethod(m); err != nil {
			t.Errorf("ValidatePaymentMethod(%q) unexpected error: %v", m, err)
		}
	}
	if err := ValidatePaymentMethod("paypal"); err == nil {
		t.Error("ValidatePaymentMethod(paypal) expected error")
	}
}
