package handlers

import (
	"github.com/cloudwego/hertz/pkg/route"

	"market-pay/common"
)

// Routes 路由依赖
type Routes struct {
	Orders    *OrderHandler
	Notify    *NotifyHandler
	Admin     *AdminHandler
	Auth      *common.Authenticator
	Providers []string
}

// Register 注册全部路由
func (r Routes) Register(e *route.Engine) {
	e.GET("/ping", Ping)
	e.GET("/health", HealthCheck(r.Providers))
	e.GET("/metrics", common.MetricsHandler)

	payment := e.Group("/payment")

	// 渠道回调无需认证，由验签保证真实性
	payment.POST("/alipay/notify", r.Notify.Alipay)
	payment.POST("/webhook", r.Notify.Webhook)
	payment.GET("/:provider/notify", r.Notify.Provider)
	payment.POST("/:provider/notify", r.Notify.Provider)

	orders := payment.Group("/orders", r.Auth.UserMiddleware())
	{
		orders.POST("", r.Orders.Create)
		orders.GET("/:order_no", r.Orders.Get)
		orders.POST("/:order_no/pay", r.Orders.Pay)
		orders.POST("/:order_no/cancel", r.Orders.Cancel)
	}

	admin := payment.Group("/admin", r.Auth.AdminMiddleware())
	{
		admin.GET("/callbacks", r.Admin.ListCallbacks)
		admin.GET("/callbacks/stats", r.Admin.CallbackStats)
		admin.GET("/reconcile/:order_no", r.Admin.Reconcile)
		admin.GET("/wechat/certs", r.Admin.ListCerts)
		admin.POST("/wechat/certs", r.Admin.ImportCert)
		admin.POST("/wechat/certs/refresh", r.Admin.RefreshCerts)
		admin.GET("/config/:key", r.Admin.GetConfig)
		admin.PUT("/config/:key", r.Admin.UpdateConfig)
	}
}
