package common

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Response 统一的响应结构
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// PageData 分页数据
type PageData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// SendJSON 发送JSON响应
func SendJSON(c *app.RequestContext, code int, data interface{}) {
	c.JSON(code, data)
}

// SendSuccess 发送成功响应
func SendSuccess(c *app.RequestContext, data interface{}) {
	SendJSON(c, consts.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// SendCreated 发送创建成功响应
func SendCreated(c *app.RequestContext, data interface{}) {
	SendJSON(c, consts.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

// SendMessage 发送消息响应
func SendMessage(c *app.RequestContext, message string) {
	SendJSON(c, consts.StatusOK, Response{
		Success: true,
		Message: message,
	})
}

// SendText 发送纯文本响应（支付宝等渠道要求回调返回 success/fail）
func SendText(c *app.RequestContext, code int, text string) {
	c.Response.Header.SetContentType("text/plain; charset=utf-8")
	c.String(code, text)
}
