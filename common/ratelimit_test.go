package common

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"market-pay/conf"
)

func TestRateLimiter_MemoryWindow(t *testing.T) {
	l := NewRateLimiter(nil, DefaultRateLimitStrategy)
	cfg := RateLimitConfig{Limit: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		allowed, count := l.Allow(context.Background(), "k", cfg)
		if !allowed || count != i {
			t.Fatalf("request %d: allowed=%v count=%d", i, allowed, count)
		}
	}
	if allowed, _ := l.Allow(context.Background(), "k", cfg); allowed {
		t.Error("4th request should be rejected")
	}
	if allowed, _ := l.Allow(context.Background(), "other", cfg); !allowed {
		t.Error("separate key should have its own window")
	}
}

func TestRateLimiter_SkipsNotifyEndpoints(t *testing.T) {
	strategy := RateLimitStrategy{
		Global: RateLimitConfig{Limit: 1, Window: time.Minute},
		Order:  RateLimitConfig{Limit: 1, Window: time.Minute},
	}
	h := server.New()
	h.Use(NewRateLimiter(nil, strategy).Middleware("X-User-ID"))
	ok := func(ctx context.Context, c *app.RequestContext) { c.String(consts.StatusOK, "ok") }
	h.POST("/payment/alipay/notify", ok)
	h.GET("/payment/orders/:order_no", ok)

	for i := 0; i < 3; i++ {
		w := ut.PerformRequest(h.Engine, consts.MethodPost, "/payment/alipay/notify", nil)
		if w.Result().StatusCode() != consts.StatusOK {
			t.Fatalf("notify request %d limited", i)
		}
	}

	first := ut.PerformRequest(h.Engine, consts.MethodGet, "/payment/orders/ORD1", nil)
	second := ut.PerformRequest(h.Engine, consts.MethodGet, "/payment/orders/ORD1", nil)
	if first.Result().StatusCode() != consts.StatusOK {
		t.Errorf("first = %d", first.Result().StatusCode())
	}
	if second.Result().StatusCode() != consts.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", second.Result().StatusCode())
	}
}

func TestAuthenticator_Middlewares(t *testing.T) {
	auth := NewAuthenticator(conf.AuthConfig{
		Enabled:      true,
		APIKeys:      []string{"user-key"},
		AdminAPIKeys: []string{"admin-key"},
		UserHeader:   "X-User-ID",
	})

	h := server.New()
	h.GET("/orders", auth.UserMiddleware(), func(ctx context.Context, c *app.RequestContext) {
		c.String(consts.StatusOK, UserIDFromContext(c))
	})
	h.GET("/admin", auth.AdminMiddleware(), func(ctx context.Context, c *app.RequestContext) {
		c.String(consts.StatusOK, "admin")
	})

	tests := []struct {
		name    string
		path    string
		headers []ut.Header
		want    int
	}{
		{"缺少 API Key", "/orders", []ut.Header{{Key: "X-User-ID", Value: "u1"}}, consts.StatusUnauthorized},
		{"缺少用户ID", "/orders", []ut.Header{{Key: "X-API-Key", Value: "user-key"}}, consts.StatusUnauthorized},
		{"普通用户访问", "/orders", []ut.Header{{Key: "X-API-Key", Value: "user-key"}, {Key: "X-User-ID", Value: "u1"}}, consts.StatusOK},
		{"Bearer 令牌", "/orders", []ut.Header{{Key: "Authorization", Value: "Bearer user-key"}, {Key: "X-User-ID", Value: "u1"}}, consts.StatusOK},
		{"普通 Key 访问管理接口", "/admin", []ut.Header{{Key: "X-API-Key", Value: "user-key"}}, consts.StatusForbidden},
		{"管理员 Key", "/admin", []ut.Header{{Key: "X-API-Key", Value: "admin-key"}}, consts.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ut.PerformRequest(h.Engine, consts.MethodGet, tt.path, nil, tt.headers...)
			if got := w.Result().StatusCode(); got != tt.want {
				t.Errorf("status = %d, want %d, body=%s", got, tt.want, w.Result().Body())
			}
		})
	}
}
