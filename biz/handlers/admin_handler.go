package handlers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"go.uber.org/zap"

	"market-pay/biz/models"
	"market-pay/biz/services"
	"market-pay/common"
	"market-pay/db"
)

// AdminHandler 运营后台接口
type AdminHandler struct {
	admin *services.AdminService
}

// NewAdminHandler 创建后台接口
func NewAdminHandler(admin *services.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

func parseTimeParam(c *app.RequestContext, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// eventFilter 从查询参数构造筛选条件
func eventFilter(c *app.RequestContext) (db.EventFilter, error) {
	f := db.EventFilter{
		Provider: c.Query("provider"),
		OrderNo:  c.Query("order_no"),
		TradeNo:  c.Query("trade_no"),
		Query:    strings.TrimSpace(c.Query("q")),
	}
	if v := c.Query("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, err
		}
		f.Verified = &b
	}

	var err error
	if f.From, err = parseTimeParam(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTimeParam(c, "to"); err != nil {
		return f, err
	}
	f.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	f.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return f, nil
}

// ListCallbacks GET /payment/admin/callbacks
func (h *AdminHandler) ListCallbacks(ctx context.Context, c *app.RequestContext) {
	f, err := eventFilter(c)
	if err != nil {
		common.SendError(c, common.ErrInvalidParameter.WithDetails(err.Error()))
		return
	}
	items, total, err := h.admin.ListCallbacks(ctx, f)
	if err != nil {
		common.SendError(c, err)
		return
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 200 {
		f.PageSize = 20
	}
	common.SendSuccess(c, common.PageData{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize})
}

// CallbackStats GET /payment/admin/callbacks/stats?hours=24
func (h *AdminHandler) CallbackStats(ctx context.Context, c *app.RequestContext) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 || hours > 24*90 {
		common.SendError(c, common.ErrInvalidParameter.WithDetails("hours must be between 1 and 2160"))
		return
	}
	stats, err := h.admin.Stats(ctx, hours)
	if err != nil {
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, stats)
}

// Reconcile GET /payment/admin/reconcile/:order_no
func (h *AdminHandler) Reconcile(ctx context.Context, c *app.RequestContext) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	d, err := h.admin.Reconcile(ctx, orderNo)
	if err != nil {
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, d)
}

// ListCerts GET /payment/admin/wechat/certs
func (h *AdminHandler) ListCerts(ctx context.Context, c *app.RequestContext) {
	common.SendSuccess(c, h.admin.ListCerts())
}

// ImportCert POST /payment/admin/wechat/certs
func (h *AdminHandler) ImportCert(ctx context.Context, c *app.RequestContext) {
	var req models.ImportCertRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil || strings.TrimSpace(req.PEM) == "" {
		common.SendError(c, common.ErrMissingParameter.WithDetails("pem is required"))
		return
	}
	info, err := h.admin.ImportCert(ctx, req.SerialNo, req.PEM)
	if err != nil {
		common.SendError(c, err)
		return
	}
	common.SendCreated(c, info)
}

// RefreshCerts POST /payment/admin/wechat/certs/refresh
func (h *AdminHandler) RefreshCerts(ctx context.Context, c *app.RequestContext) {
	n, err := h.admin.RefreshCerts(ctx)
	if err != nil {
		zap.L().Warn("Platform certificate refresh failed", zap.Error(err))
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, utils.H{"refreshed": n, "certs": h.admin.ListCerts()})
}

// GetConfig GET /payment/admin/config/:key
func (h *AdminHandler) GetConfig(ctx context.Context, c *app.RequestContext) {
	key := c.Param("key")
	value, err := h.admin.GetConfig(ctx, key)
	if err != nil {
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, utils.H{"key": key, "value": value})
}

// UpdateConfig PUT /payment/admin/config/:key
func (h *AdminHandler) UpdateConfig(ctx context.Context, c *app.RequestContext) {
	key := c.Param("key")
	var req models.UpdateConfigRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		common.SendError(c, common.ErrInvalidRequest.WithDetails("Failed to bind request: "+err.Error()))
		return
	}
	if err := h.admin.SetConfig(ctx, key, req.Value); err != nil {
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, utils.H{"key": key, "value": req.Value})
}
