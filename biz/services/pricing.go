package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"market-pay/biz"
	"market-pay/db"
)

// 系统配置键
const (
	ConfigAIPackPrices              = "ai_pack_prices"
	ConfigDocumentGeneratePackPrice = "document_generate_pack_prices"
	ConfigVIPPrice                  = "vip_price"
	ConfigLightConsultReviewPrice   = "light_consult_review_price"
	ConfigVIPDurationDays           = "vip_duration_days"
	ConfigPaymentMethodsEnabled     = "payment_methods_enabled"
)

// DefaultVIPDurationDays 未配置时会员时长
const DefaultVIPDurationDays = 30

// ConfigStore 系统配置读写
type ConfigStore interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// Pricing 每次读取 system_configs，修改即时生效
type Pricing struct {
	configs ConfigStore
}

// NewPricing 创建定价读取器
func NewPricing(configs ConfigStore) *Pricing {
	return &Pricing{configs: configs}
}

func packPriceKey(orderType string) string {
	if orderType == biz.OrderTypeDocumentGeneratePack {
		return ConfigDocumentGeneratePackPrice
	}
	return ConfigAIPackPrices
}

// parsePriceTable 价格表形如 {"10": 1.23, "50": "5.00"}
func parsePriceTable(raw string) (map[string]decimal.Decimal, error) {
	table := make(map[string]decimal.Decimal)
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}
	return table, nil
}

// PackPrice 次数包价格；ok 为 false 表示该规格未上架
func (p *Pricing) PackPrice(ctx context.Context, orderType string, size int64) (price decimal.Decimal, ok bool, err error) {
	raw, found, err := p.configs.GetConfigValue(ctx, packPriceKey(orderType))
	if err != nil || !found {
		return decimal.Zero, false, err
	}
	table, err := parsePriceTable(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	price, ok = table[strconv.FormatInt(size, 10)]
	return price, ok, nil
}

// FixedPrice 固定价格配置（vip_price 等）；未配置时 ok 为 false
func (p *Pricing) FixedPrice(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, found, err := p.configs.GetConfigValue(ctx, key)
	if err != nil || !found || strings.TrimSpace(raw) == "" {
		return decimal.Zero, false, err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return price, true, nil
}

// VIPDurationDays 会员单次购买天数
func (p *Pricing) VIPDurationDays(ctx context.Context) (int, error) {
	raw, found, err := p.configs.GetConfigValue(ctx, ConfigVIPDurationDays)
	if err != nil {
		return 0, err
	}
	if !found {
		return DefaultVIPDurationDays, nil
	}
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("invalid %s %q", ConfigVIPDurationDays, raw)
	}
	return days, nil
}

// parseMethodList 支持 JSON 数组或逗号分隔
func parseMethodList(raw string) []string {
	raw = strings.TrimSpace(raw)
	var methods []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &methods); err == nil {
			return methods
		}
	}
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	return methods
}

// MethodEnabled 支付方式开关，未配置时全部开启
func (p *Pricing) MethodEnabled(ctx context.Context, method string) (bool, error) {
	raw, found, err := p.configs.GetConfigValue(ctx, ConfigPaymentMethodsEnabled)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	for _, m := range parseMethodList(raw) {
		if m == method {
			return true, nil
		}
	}
	return false, nil
}

// ValidateConfigValue 写入前校验已知配置项格式
func ValidateConfigValue(key, value string) error {
	switch key {
	case ConfigAIPackPrices, ConfigDocumentGeneratePackPrice:
		table, err := parsePriceTable(value)
		if err != nil {
			return err
		}
		for size, price := range table {
			if n, err := strconv.ParseInt(size, 10, 64); err != nil || n <= 0 {
				return fmt.Errorf("invalid pack size %q", size)
			}
			if !price.IsPositive() {
				return fmt.Errorf("price for pack %s must be positive", size)
			}
		}
	case ConfigVIPPrice, ConfigLightConsultReviewPrice:
		price, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("%s must be a positive amount", key)
		}
	case ConfigVIPDurationDays:
		if days, err := strconv.Atoi(strings.TrimSpace(value)); err != nil || days <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
	case ConfigPaymentMethodsEnabled:
		for _, m := range parseMethodList(value) {
			if err := biz.ValidatePaymentMethod(m); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ ConfigStore = (*db.Store)(nil)
