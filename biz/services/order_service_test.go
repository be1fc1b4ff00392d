package services

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-pay/common"
	"market-pay/db"
)

func TestGenerateOrderNo(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	a, b := GenerateOrderNo(now), GenerateOrderNo(now)
	assert.Len(t, a, 3+14+8)
	assert.Equal(t, "ORD20240501123000", a[:17])
	assert.NotEqual(t, a, b)
}

func TestOrderService_Create(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		in         CreateOrderInput
		wantKind   common.ErrorKind
		wantAmount string
	}{
		{
			name:       "服务订单按调用方金额",
			in:         CreateOrderInput{OrderType: "service", Amount: json.RawMessage(`"10.126"`)},
			wantAmount: "10.13",
		},
		{
			name:     "未知订单类型",
			in:       CreateOrderInput{OrderType: "donation", Amount: json.RawMessage(`1`)},
			wantKind: common.KindInvalidOrderType,
		},
		{
			name:     "金额为零",
			in:       CreateOrderInput{OrderType: "service", Amount: json.RawMessage(`0`)},
			wantKind: common.KindInvalidAmount,
		},
		{
			name:     "金额无法解析",
			in:       CreateOrderInput{OrderType: "service", Amount: json.RawMessage(`"ten"`)},
			wantKind: common.KindInvalidAmount,
		},
		{
			name:     "related_id 为布尔值",
			in:       CreateOrderInput{OrderType: "service", Amount: json.RawMessage(`1`), RelatedID: json.RawMessage(`true`)},
			wantKind: common.KindInvalidRelatedID,
		},
		{
			name:       "次数包以价格表为准",
			in:         CreateOrderInput{OrderType: "ai_pack", Amount: json.RawMessage(`99`), RelatedID: json.RawMessage(`"10"`)},
			wantAmount: "1.23",
		},
		{
			name:     "次数包规格未上架",
			in:       CreateOrderInput{OrderType: "ai_pack", RelatedID: json.RawMessage(`20`)},
			wantKind: common.KindInvalidPackSize,
		},
		{
			name:     "次数包缺少规格",
			in:       CreateOrderInput{OrderType: "document_generate_pack"},
			wantKind: common.KindInvalidPackSize,
		},
		{
			name:       "会员使用配置价格",
			in:         CreateOrderInput{OrderType: "vip", Amount: json.RawMessage(`1`)},
			wantAmount: "30.00",
		},
		{
			name:     "审核订单缺少咨询",
			in:       CreateOrderInput{OrderType: "light_consult_review"},
			wantKind: common.KindMissingConsultationID,
		},
		{
			name:     "审核订单咨询不存在",
			in:       CreateOrderInput{OrderType: "light_consult_review", RelatedID: json.RawMessage(`404`)},
			wantKind: common.KindConsultationNotFound,
		},
		{
			name:     "审核订单咨询属于他人",
			userID:   "u2",
			in:       CreateOrderInput{OrderType: "light_consult_review", RelatedID: json.RawMessage(`1`)},
			wantKind: common.KindNotOwner,
		},
		{
			name:     "审核订单关联类型错误",
			in:       CreateOrderInput{OrderType: "light_consult_review", RelatedID: json.RawMessage(`1`), RelatedType: "document"},
			wantKind: common.KindInvalidRelatedID,
		},
		{
			name:       "审核订单使用配置价格",
			in:         CreateOrderInput{OrderType: "light_consult_review", RelatedID: json.RawMessage(`1`)},
			wantAmount: "19.90",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			env := newTestEnv(t)
			require.NoError(t, env.store.SetConfigValue(ctx, ConfigAIPackPrices, `{"10": 1.23, "50": "5.00"}`))
			require.NoError(t, env.store.SetConfigValue(ctx, ConfigVIPPrice, "30"))
			require.NoError(t, env.store.SetConfigValue(ctx, ConfigLightConsultReviewPrice, "19.9"))
			require.NoError(t, env.store.CreateConsultation(ctx, &db.Consultation{ID: 1, UserID: "u1"}))

			userID := tt.userID
			if userID == "" {
				userID = "u1"
			}
			order, err := env.orders.Create(ctx, userID, tt.in)
			if tt.wantAmount == "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, common.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, order.ActualAmount.StringFixed(2))
			assert.True(t, order.Amount.Equal(order.ActualAmount))
			assert.Equal(t, db.StatusPending, order.Status)

			stored, err := env.store.GetOrder(ctx, order.OrderNo)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, stored.ActualAmount.StringFixed(2))
		})
	}
}

func TestOrderService_Cancel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	order := env.createOrder(t, "u1", `"10.00"`)
	_, err := env.orders.Cancel(ctx, order.OrderNo, "u2")
	assert.True(t, common.IsKind(err, common.KindNotFound))

	cancelled, err := env.orders.Cancel(ctx, order.OrderNo, "u1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusCancelled, cancelled.Status)

	_, err = env.orders.Cancel(ctx, order.OrderNo, "u1")
	assert.True(t, common.IsKind(err, common.KindInvalidState))

	paid := env.createOrder(t, "u1", `"10.00"`)
	_, err = env.processor.Process(ctx, "webhook", env.webhookNotification(paid.OrderNo, "T-1", "10.00", ""))
	require.NoError(t, err)
	_, err = env.orders.Cancel(ctx, paid.OrderNo, "u1")
	assert.True(t, common.IsKind(err, common.KindInvalidState))

	got, err := env.store.GetOrder(ctx, paid.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPaid, got.Status)
}

func TestOrderService_Pay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "u1", `"10.00"`)

	t.Run("未知支付方式", func(t *testing.T) {
		_, err := env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "paypal"})
		assert.True(t, common.IsKind(err, common.KindInvalidPaymentMethod))
	})

	t.Run("渠道未配置", func(t *testing.T) {
		_, err := env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "stripe"})
		assert.True(t, common.IsKind(err, common.KindInvalidPaymentMethod))
	})

	t.Run("生成收银台地址", func(t *testing.T) {
		res, err := env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "webhook"})
		require.NoError(t, err)
		assert.False(t, res.AlreadyPaid)

		u, err := url.Parse(res.PayURL)
		require.NoError(t, err)
		assert.Equal(t, "/payment/orders/"+order.OrderNo, u.Path)
		assert.Equal(t, "https://pay.example.com/payment/webhook", u.Query().Get("notify_url"))

		ret, err := url.Parse(u.Query().Get("return_url"))
		require.NoError(t, err)
		assert.Equal(t, order.OrderNo, ret.Query().Get("order_no"))

		stored, err := env.store.GetOrder(ctx, order.OrderNo)
		require.NoError(t, err)
		assert.Equal(t, "webhook", *stored.PaymentMethod)
	})

	t.Run("支付方式已关闭", func(t *testing.T) {
		require.NoError(t, env.store.SetConfigValue(ctx, ConfigPaymentMethodsEnabled, `["alipay","balance"]`))

		_, err := env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "webhook"})
		assert.True(t, common.IsKind(err, common.KindInvalidPaymentMethod))
	})

	t.Run("已支付直接返回", func(t *testing.T) {
		_, err := env.processor.Process(ctx, "webhook", env.webhookNotification(order.OrderNo, "T-1", "10.00", ""))
		require.NoError(t, err)

		res, err := env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "paypal"})
		require.NoError(t, err)
		assert.True(t, res.AlreadyPaid)
		assert.Empty(t, res.PayURL)
		assert.Equal(t, "T-1", *res.Order.TradeNo)
	})
}

func TestOrderService_PayWithBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "u1", `"10.00"`)

	_, err := env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "balance"})
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindInsufficientBalance))

	got, err := env.store.GetOrder(ctx, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, got.Status)

	require.NoError(t, env.store.CreditBalance(ctx, "u1", decimal.NewFromInt(50)))

	res, err := env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "balance"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyPaid)
	assert.Equal(t, db.StatusPaid, res.Order.Status)
	assert.Equal(t, "BAL"+order.OrderNo, *res.Order.TradeNo)

	account, err := env.store.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", account.Balance.StringFixed(2))

	events, err := env.store.ListOrderEvents(ctx, order.OrderNo)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, BalanceProvider, events[0].Provider)
	assert.True(t, events[0].Verified)

	d, err := env.reconcile.Reconcile(ctx, order.OrderNo)
	require.NoError(t, err)
	assert.Equal(t, DiagnosisConsistent, d.Diagnosis)

	res, err = env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "balance"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyPaid)

	account, err = env.store.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "40.00", account.Balance.StringFixed(2))
}

func TestEffects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env.effects.now = func() time.Time { return fixed }

	require.NoError(t, env.store.SetConfigValue(ctx, ConfigAIPackPrices, `{"10": 1.23}`))
	require.NoError(t, env.store.SetConfigValue(ctx, ConfigVIPDurationDays, "30"))
	require.NoError(t, env.store.CreateConsultation(ctx, &db.Consultation{ID: 7, UserID: "u1"}))
	require.NoError(t, env.store.CreditBalance(ctx, "u1", decimal.NewFromInt(1000)))

	pay := func(t *testing.T, in CreateOrderInput) *db.Order {
		t.Helper()
		order, err := env.orders.Create(ctx, "u1", in)
		require.NoError(t, err)
		_, err = env.orders.Pay(ctx, PayInput{OrderNo: order.OrderNo, UserID: "u1", Method: "balance"})
		require.NoError(t, err)
		return order
	}

	t.Run("会员时长叠加", func(t *testing.T) {
		pay(t, CreateOrderInput{OrderType: "vip", Amount: json.RawMessage(`30`)})
		pay(t, CreateOrderInput{OrderType: "vip", Amount: json.RawMessage(`30`)})

		account, err := env.store.GetAccount(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, account.VipExpiresAt)
		assert.WithinDuration(t, fixed.AddDate(0, 0, 60), *account.VipExpiresAt, time.Second)
	})

	t.Run("次数包入账", func(t *testing.T) {
		pay(t, CreateOrderInput{OrderType: "ai_pack", RelatedID: json.RawMessage(`10`)})
		pay(t, CreateOrderInput{OrderType: "ai_pack", RelatedID: json.RawMessage(`10`)})

		credits, err := env.store.GetPackCredits(ctx, "u1", "ai_pack")
		require.NoError(t, err)
		assert.Equal(t, int64(20), credits)
	})

	t.Run("审核资格", func(t *testing.T) {
		order := pay(t, CreateOrderInput{OrderType: "light_consult_review", RelatedID: json.RawMessage(`7`), Amount: json.RawMessage(`9.9`)})

		c, err := env.store.GetConsultation(ctx, 7)
		require.NoError(t, err)
		assert.True(t, c.ReviewEligible)
		assert.Equal(t, order.OrderNo, *c.ReviewOrderNo)

		purchase, err := env.store.GetServicePurchase(ctx, order.OrderNo)
		require.NoError(t, err)
		assert.Equal(t, "light_consult_review", purchase.OrderType)
	})

	t.Run("事务外调用被拒绝", func(t *testing.T) {
		order := env.createOrder(t, "u1", `"1.00"`)
		assert.Error(t, env.effects.Apply(ctx, order))
	})
}
