package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"market-pay/biz/models"
	"market-pay/biz/providers"
	"market-pay/biz/services"
	"market-pay/common"
)

// ackStyle 渠道要求的应答格式
type ackStyle int

const (
	ackText   ackStyle = iota // success / fail
	ackWechat                 // {"code":"SUCCESS"} / {"code":"FAIL"}
	ackJSON                   // {"code":"success"} / {"code":"fail"}
)

func ackStyleOf(provider string) ackStyle {
	switch provider {
	case "alipay", "ikunpay":
		return ackText
	case "wechat":
		return ackWechat
	default:
		return ackJSON
	}
}

// NotifyHandler 支付渠道回调入口
type NotifyHandler struct {
	processor *services.CallbackProcessor
}

// NewNotifyHandler 创建回调入口
func NewNotifyHandler(processor *services.CallbackProcessor) *NotifyHandler {
	return &NotifyHandler{processor: processor}
}

// notificationFrom 保留原始请求体、请求头与参数
func notificationFrom(c *app.RequestContext) *providers.Notification {
	n := &providers.Notification{
		Body:   append([]byte(nil), c.Request.Body()...),
		Header: http.Header{},
	}
	c.Request.Header.VisitAll(func(key, value []byte) {
		n.Header.Add(string(key), string(value))
	})
	if q, err := url.ParseQuery(string(c.Request.QueryString())); err == nil {
		n.Query = q
	}
	if strings.Contains(string(c.ContentType()), "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(n.Body)); err == nil {
			n.Form = form
		}
	}
	return n
}

// Alipay POST /payment/alipay/notify
func (h *NotifyHandler) Alipay(ctx context.Context, c *app.RequestContext) {
	h.handle(ctx, c, "alipay")
}

// Webhook POST /payment/webhook
func (h *NotifyHandler) Webhook(ctx context.Context, c *app.RequestContext) {
	h.handle(ctx, c, "webhook")
}

// Provider GET|POST /payment/:provider/notify
func (h *NotifyHandler) Provider(ctx context.Context, c *app.RequestContext) {
	h.handle(ctx, c, c.Param("provider"))
}

func (h *NotifyHandler) handle(ctx context.Context, c *app.RequestContext, provider string) {
	common.LogStage(c, "notify_received", zap.String("provider", provider))

	out, err := h.processor.Process(ctx, provider, notificationFrom(c))
	style := ackStyleOf(provider)
	switch {
	case common.IsKind(err, common.KindNotFound):
		common.SendError(c, err)
	case common.IsKind(err, common.KindTransient):
		c.Header("Retry-After", "1")
		sendAck(c, style, consts.StatusServiceUnavailable, false, "retry later")
	case err != nil:
		sendAck(c, style, consts.StatusInternalServerError, false, "processing error")
	case out.Success:
		sendAck(c, style, consts.StatusOK, true, "")
	default:
		// 确定性失败：渠道不应重试
		status := consts.StatusOK
		if style != ackText {
			status = consts.StatusBadRequest
		}
		sendAck(c, style, status, false, out.Reason)
	}
}

func sendAck(c *app.RequestContext, style ackStyle, status int, ok bool, message string) {
	switch style {
	case ackText:
		text := "fail"
		if ok {
			text = "success"
		}
		common.SendText(c, status, text)
	case ackWechat:
		ack := models.NotifyAck{Code: "FAIL", Message: message}
		if ok {
			ack = models.NotifyAck{Code: "SUCCESS", Message: "成功"}
		}
		common.SendJSON(c, status, ack)
	default:
		ack := models.NotifyAck{Code: "fail", Message: message}
		if ok {
			ack = models.NotifyAck{Code: "success"}
		}
		common.SendJSON(c, status, ack)
	}
}
