package services

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-pay/common"
	"market-pay/db"
)

func TestMaskPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"空报文", "", ""},
		{"JSON 嵌套字段", `{"order_no":"ORD1","payer":{"openid":"o-1"},"resource":{"ciphertext":"abc","nonce":"n"}}`,
			`{"order_no":"ORD1","payer":"***","resource":{"ciphertext":"***","nonce":"***"}}`},
		{"JSON 数组", `[{"email":"a@b.c","amount":1}]`, `[{"amount":1,"email":"***"}]`},
		{"表单报文", "buyer_id=2088&out_trade_no=ORD1&sign=xyz", "buyer_id=%2A%2A%2A&out_trade_no=ORD1&sign=%2A%2A%2A"},
		{"短文本", "plain text", "***"},
		{"长文本保留首尾", "abcdefghijklmnopqrstuvwxyz", "abcdef***uvwxyz"},
		{"stripe 客户端密钥", `{"id":"pi_1","client_secret":"pi_1_secret_abc"}`, `{"client_secret":"***","id":"pi_1"}`},
		{"超长中文按字符截断", "甲乙丙丁戊己" + strings.Repeat("款", 300) + "尾", "甲乙丙丁戊己***款款款款款款"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskPayload(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestAdminService_CallbacksAndStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "u1", `"10.00"`)

	_, err := env.processor.Process(ctx, "webhook", env.webhookNotification(order.OrderNo, "T-1", "9.99", ""))
	require.NoError(t, err)
	_, err = env.processor.Process(ctx, "webhook", env.webhookNotification(order.OrderNo, "T-1", "10.00", ""))
	require.NoError(t, err)

	views, total, err := env.admin.ListCallbacks(ctx, db.EventFilter{OrderNo: order.OrderNo})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, "T-1", v.TradeNo)
		assert.Equal(t, "webhook", v.Provider)
	}

	verified := true
	views, total, err = env.admin.ListCallbacks(ctx, db.EventFilter{Verified: &verified})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "10.00", views[0].Amount)

	stats, err := env.admin.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 24, stats.Hours)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Verified)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.OrderStatus["paid"])
	assert.InDelta(t, 0.5, stats.SuccessRatio, 1e-9)
}

func TestAdminService_Config(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.admin.GetConfig(ctx, ConfigVIPPrice)
	assert.True(t, common.IsKind(err, common.KindNotFound))

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{"价格表", ConfigAIPackPrices, `{"10": 1.23}`, false},
		{"价格表规格非法", ConfigAIPackPrices, `{"ten": 1.23}`, true},
		{"价格表价格为零", ConfigDocumentGeneratePackPrice, `{"10": 0}`, true},
		{"会员价格", ConfigVIPPrice, "29.9", false},
		{"会员价格为负", ConfigVIPPrice, "-1", true},
		{"会员天数", ConfigVIPDurationDays, "365", false},
		{"会员天数非法", ConfigVIPDurationDays, "forever", true},
		{"支付方式", ConfigPaymentMethodsEnabled, `["alipay","wechat"]`, false},
		{"支付方式未知", ConfigPaymentMethodsEnabled, "alipay,paypal", true},
		{"自定义配置", "banner_text", "hello", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.admin.SetConfig(ctx, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got, err := env.admin.GetConfig(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}
