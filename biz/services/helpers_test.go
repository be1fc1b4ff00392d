package services

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"market-pay/biz/providers"
	"market-pay/cache"
	"market-pay/conf"
	"market-pay/db"
	"market-pay/db/dbtest"
)

const testWebhookSecret = "whsec_test"

// flakyEffects 前 fails 次调用失败，之后委托给真实实现
type flakyEffects struct {
	mu    sync.Mutex
	inner Effects
	fails int
}

func (f *flakyEffects) Apply(ctx context.Context, order *db.Order) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("entitlement backend unavailable")
	}
	f.mu.Unlock()
	return f.inner.Apply(ctx, order)
}

// hookLocker 首次加锁前执行 before，用于在查重与加锁之间插入另一次投递
type hookLocker struct {
	cache.Locker
	once   sync.Once
	before func()
}

func (l *hookLocker) Acquire(ctx context.Context, key string) (cache.Lock, error) {
	l.once.Do(l.before)
	return l.Locker.Acquire(ctx, key)
}

type testEnv struct {
	store     *db.Store
	cfg       *conf.Config
	pricing   *Pricing
	effects   *EffectApplier
	locker    cache.Locker
	registry  *providers.Registry
	orders    *OrderService
	processor *CallbackProcessor
	reconcile *ReconcileService
	admin     *AdminService
	webhook   *providers.Webhook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := conf.Default()
	cfg.Payment.PublicBaseURL = "https://pay.example.com"
	cfg.Payment.ReturnURL = "https://app.example.com/paid"
	cfg.Webhook.Secret = testWebhookSecret

	store := dbtest.New(t)
	locker := cache.NewMemoryLocker(cache.LockOptions{TTL: 5 * time.Second, Tries: 400, RetryDelay: 5 * time.Millisecond})
	pricing := NewPricing(store)
	effects := NewEffectApplier(store, pricing)
	certs := providers.NewCertStore(store, nil)
	registry, err := providers.FromConfig(cfg, certs)
	require.NoError(t, err)

	reconcile := NewReconcileService(store)
	return &testEnv{
		store:     store,
		cfg:       cfg,
		pricing:   pricing,
		effects:   effects,
		locker:    locker,
		registry:  registry,
		orders:    NewOrderService(store, pricing, effects, locker, NewPayURLBuilder(cfg), 0),
		processor: NewCallbackProcessor(store, registry, effects, locker),
		reconcile: reconcile,
		admin:     NewAdminService(store, reconcile, certs),
		webhook:   providers.NewWebhook(cfg.Webhook),
	}
}

// createOrder 按调用方金额创建 service 订单
func (e *testEnv) createOrder(t *testing.T, userID, amount string) *db.Order {
	t.Helper()
	order, err := e.orders.Create(context.Background(), userID, CreateOrderInput{
		OrderType: "service",
		Amount:    json.RawMessage(amount),
		Title:     "合同审查",
	})
	require.NoError(t, err)
	return order
}

// webhookNotification 构造签名正确的通用 webhook 通知
func (e *testEnv) webhookNotification(orderNo, tradeNo, amount, status string) *providers.Notification {
	body, _ := json.Marshal(map[string]interface{}{
		"order_no":       orderNo,
		"trade_no":       tradeNo,
		"payment_method": "webhook",
		"amount":         json.RawMessage(amount),
		"status":         status,
	})
	h := http.Header{}
	h.Set(providers.WebhookSignatureHeader, e.webhook.Sign(orderNo, tradeNo, "webhook", amount))
	return &providers.Notification{Body: body, Header: h}
}

// useAlipayKey 生成支付宝密钥对，按新公钥重建校验器与回调处理器
func (e *testEnv) useAlipayKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	e.cfg.Alipay.PublicKey = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	registry, err := providers.FromConfig(e.cfg, providers.NewCertStore(e.store, nil))
	require.NoError(t, err)
	e.registry = registry
	e.processor = NewCallbackProcessor(e.store, registry, e.effects, e.locker)
	return key
}

// alipayNotification 构造 RSA2 签名的支付宝异步通知
func (e *testEnv) alipayNotification(t *testing.T, key *rsa.PrivateKey, orderNo, tradeNo, amount, status string) *providers.Notification {
	t.Helper()
	params := map[string]string{
		"out_trade_no": orderNo,
		"trade_no":     tradeNo,
		"total_amount": amount,
		"trade_status": status,
	}
	if e.cfg.Alipay.AppID != "" {
		params["app_id"] = e.cfg.Alipay.AppID
	}
	digest := sha256.Sum256([]byte(providers.Canonicalize(params, "sign", "sign_type")))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("sign_type", "RSA2")
	form.Set("sign", base64.StdEncoding.EncodeToString(sig))
	return &providers.Notification{Form: form}
}
