package handlers

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"market-pay/biz"
	"market-pay/biz/models"
	"market-pay/biz/services"
	"market-pay/common"
	"market-pay/db"
)

// OrderHandler 订单接口，用户ID由认证中间件注入
type OrderHandler struct {
	orders *services.OrderService
}

// NewOrderHandler 创建订单接口
func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// decodeBody 严格解析 JSON 请求体；空请求体视为空对象
func decodeBody(c *app.RequestContext, dst interface{}) error {
	body := c.Request.Body()
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func orderNoParam(c *app.RequestContext) (string, bool) {
	orderNo := c.Param("order_no")
	if err := biz.ValidateOrderNo(orderNo); err != nil {
		common.SendError(c, common.ErrValidationFailed.WithDetails(err.Error()))
		return "", false
	}
	return orderNo, true
}

func currentUser(c *app.RequestContext) (string, bool) {
	userID := common.UserIDFromContext(c)
	if err := biz.ValidateUserID(userID); err != nil {
		common.SendError(c, common.ErrUnauthorized.WithDetails(err.Error()))
		return "", false
	}
	return userID, true
}

// Create POST /payment/orders
func (h *OrderHandler) Create(ctx context.Context, c *app.RequestContext) {
	common.LogStage(c, "request_received", zap.String("handler", "CreateOrder"))

	var req models.CreateOrderRequest
	if err := decodeBody(c, &req); err != nil {
		common.LogStageWithLevel(c, zapcore.WarnLevel, "bind_failed", zap.Error(err))
		common.SendError(c, common.ErrInvalidRequest.WithDetails("Failed to bind request: "+err.Error()))
		return
	}
	if err := biz.ValidateTitle(req.Title); err != nil {
		common.SendError(c, common.ErrValidationFailed.WithDetails(err.Error()))
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	order, err := h.orders.Create(ctx, userID, services.CreateOrderInput{
		OrderType:   req.OrderType,
		Amount:      req.Amount,
		RelatedID:   req.RelatedID,
		RelatedType: req.RelatedType,
		Title:       req.Title,
	})
	if err != nil {
		common.LogStageWithLevel(c, zapcore.WarnLevel, "create_failed", zap.Error(err))
		common.SendError(c, err)
		return
	}

	common.LogStage(c, "order_created", zap.String("order_no", order.OrderNo))
	common.SendCreated(c, order)
}

// Get GET /payment/orders/:order_no
func (h *OrderHandler) Get(ctx context.Context, c *app.RequestContext) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	order, err := h.orders.Get(ctx, orderNo, userID)
	if err != nil {
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, order)
}

// Pay POST /payment/orders/:order_no/pay
func (h *OrderHandler) Pay(ctx context.Context, c *app.RequestContext) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}

	var req models.PayOrderRequest
	if err := decodeBody(c, &req); err != nil {
		common.SendError(c, common.ErrInvalidRequest.WithDetails("Failed to bind request: "+err.Error()))
		return
	}
	req.OrderNo = orderNo
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := biz.ValidateURL(req.ReturnURL); err != nil {
		common.SendError(c, common.ErrValidationFailed.WithDetails(err.Error()))
		return
	}

	common.LogStage(c, "initiating_payment",
		zap.String("order_no", orderNo),
		zap.String("payment_method", req.PaymentMethod))

	res, err := h.orders.Pay(ctx, services.PayInput{
		OrderNo:   orderNo,
		UserID:    userID,
		Method:    req.PaymentMethod,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		common.LogStageWithLevel(c, zapcore.WarnLevel, "payment_failed", zap.Error(err))
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, payResponse(res))
}

func payResponse(res *services.PayResult) models.PayOrderResponse {
	resp := models.PayOrderResponse{
		OrderNo:     res.Order.OrderNo,
		Status:      string(res.Order.Status),
		PayURL:      res.PayURL,
		AlreadyPaid: res.AlreadyPaid,
	}
	if res.Order.PaymentMethod != nil {
		resp.PaymentMethod = *res.Order.PaymentMethod
	}
	if res.Order.Status == db.StatusPaid && res.Order.TradeNo != nil {
		resp.TradeNo = *res.Order.TradeNo
	}
	return resp
}

// Cancel POST /payment/orders/:order_no/cancel
func (h *OrderHandler) Cancel(ctx context.Context, c *app.RequestContext) {
	orderNo, ok := orderNoParam(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	order, err := h.orders.Cancel(ctx, orderNo, userID)
	if err != nil {
		common.SendError(c, err)
		return
	}
	common.SendSuccess(c, order)
}
