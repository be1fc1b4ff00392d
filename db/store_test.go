package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-pay/db"
	"market-pay/db/dbtest"
)

func strPtr(s string) *string { return &s }

func newOrder(orderNo string) *db.Order {
	return &db.Order{
		OrderNo:      orderNo,
		UserID:       "u1",
		OrderType:    "service",
		Amount:       decimal.RequireFromString("10.00"),
		ActualAmount: decimal.RequireFromString("10.00"),
		Status:       db.StatusPending,
	}
}

func TestOrder_TransitionsOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	require.NoError(t, store.CreateOrder(ctx, newOrder("ORD1")))

	ok, err := store.MarkPaid(ctx, "ORD1", "T1", "alipay", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// 已支付订单不能再取消或再次支付
	ok, err = store.TransitionFromPending(ctx, "ORD1", db.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.MarkPaid(ctx, "ORD1", "T2", "alipay", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	order, err := store.GetOrder(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusPaid, order.Status)
	assert.Equal(t, "T1", *order.TradeNo)
	assert.True(t, order.ActualAmount.Equal(decimal.NewFromInt(10)))

	_, err = store.GetUserOrder(ctx, "ORD1", "someone-else")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestCallbackEvent_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	first := &db.CallbackEvent{Provider: "alipay", OrderNo: "ORD1", TradeNo: strPtr("T1"), Verified: true}
	require.NoError(t, store.InsertCallbackEvent(ctx, first))

	dup := &db.CallbackEvent{Provider: "alipay", OrderNo: "ORD1", TradeNo: strPtr("T1"), Verified: true}
	err := store.InsertCallbackEvent(ctx, dup)
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKey(err), "got %v", err)

	// 同一单号不同渠道不冲突
	require.NoError(t, store.InsertCallbackEvent(ctx, &db.CallbackEvent{Provider: "webhook", OrderNo: "ORD1", TradeNo: strPtr("T1")}))

	// 未占用幂等键的记录可以重复追加
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertCallbackEvent(ctx, &db.CallbackEvent{
			Provider: "alipay", OrderNo: "ORD1", ReportedTradeNo: "T1", ErrorMessage: "signature_failed",
		}))
	}

	found, err := store.FindEventByTradeNo(ctx, "alipay", "T1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	events, err := store.ListOrderEvents(ctx, "ORD1")
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestListEvents_Filters(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	require.NoError(t, store.InsertCallbackEvent(ctx, &db.CallbackEvent{Provider: "alipay", OrderNo: "ORD1", TradeNo: strPtr("T1"), Verified: true,
		RawPayload: "buyer_logon_id=alice%40example.com&out_trade_no=ORD1"}))
	require.NoError(t, store.InsertCallbackEvent(ctx, &db.CallbackEvent{Provider: "wechat", OrderNo: "ORD2", ReportedTradeNo: "W2", ErrorMessage: "decrypt_failed"}))
	require.NoError(t, store.InsertCallbackEvent(ctx, &db.CallbackEvent{Provider: "wechat", OrderNo: "ORD3", ErrorMessage: "signature_failed"}))

	verified := false
	tests := []struct {
		name   string
		filter db.EventFilter
		want   int64
	}{
		{"全部", db.EventFilter{}, 3},
		{"按渠道", db.EventFilter{Provider: "wechat"}, 2},
		{"按订单号", db.EventFilter{OrderNo: "ORD1"}, 1},
		{"按上报单号", db.EventFilter{TradeNo: "W2"}, 1},
		{"未验证", db.EventFilter{Verified: &verified}, 2},
		{"关键字", db.EventFilter{Query: "decrypt"}, 1},
		{"组合条件", db.EventFilter{Provider: "wechat", Query: "ORD3"}, 1},
		{"关键字不匹配原始报文", db.EventFilter{Query: "alice"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := store.ListEvents(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
		})
	}

	stats, err := store.CountEvents(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, db.EventStats{Total: 3, Verified: 1, Failed: 2}, stats)
}

func TestAccount_BalanceAndPacks(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	require.NoError(t, store.CreditBalance(ctx, "u1", decimal.RequireFromString("20.50")))

	ok, err := store.DebitBalance(ctx, "u1", decimal.RequireFromString("30"))
	require.NoError(t, err)
	assert.False(t, ok, "insufficient balance")

	ok, err = store.DebitBalance(ctx, "u1", decimal.RequireFromString("10.25"))
	require.NoError(t, err)
	assert.True(t, ok)

	account, err := store.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("10.25")), "balance=%s", account.Balance)

	require.NoError(t, store.AddPackCredits(ctx, "u1", "ai_pack", 10))
	require.NoError(t, store.AddPackCredits(ctx, "u1", "ai_pack", 5))
	credits, err := store.GetPackCredits(ctx, "u1", "ai_pack")
	require.NoError(t, err)
	assert.Equal(t, int64(15), credits)

	credits, err = store.GetPackCredits(ctx, "u1", "document_generate_pack")
	require.NoError(t, err)
	assert.Zero(t, credits)
}

func TestSystemConfig_Upsert(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)

	_, ok, err := store.GetConfigValue(ctx, "vip_price")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetConfigValue(ctx, "vip_price", "19.90"))
	require.NoError(t, store.SetConfigValue(ctx, "vip_price", "29.90"))

	value, ok, err := store.GetConfigValue(ctx, "vip_price")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "29.90", value)
}

func TestExec_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	require.NoError(t, store.CreateOrder(ctx, newOrder("ORD1")))

	boom := errors.New("effect failed")
	err := store.Exec(ctx, func(ctx context.Context) error {
		assert.True(t, db.InTx(ctx))
		if _, err := store.MarkPaid(ctx, "ORD1", "T1", "alipay", time.Now()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	order, err := store.GetOrder(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusPending, order.Status)
}
