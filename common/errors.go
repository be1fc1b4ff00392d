package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIError 统一的API错误响应结构
type APIError struct {
	Code    int    `json:"code"`               // HTTP状态码
	Kind    string `json:"kind,omitempty"`     // 业务错误类型
	Message string `json:"message"`            // 用户友好的错误消息
	Details string `json:"details,omitempty"`  // 可选的详细信息（仅开发环境）
	ErrorID string `json:"error_id,omitempty"` // 错误ID（用于日志追踪）
}

// Error 实现error接口
func (e *APIError) Error() string {
	return e.Message
}

// 预定义的错误类型
var (
	// 400 Bad Request
	ErrInvalidRequest   = &APIError{Code: consts.StatusBadRequest, Message: "Invalid request"}
	ErrInvalidParameter = &APIError{Code: consts.StatusBadRequest, Message: "Invalid parameter"}
	ErrMissingParameter = &APIError{Code: consts.StatusBadRequest, Message: "Missing required parameter"}
	ErrValidationFailed = &APIError{Code: consts.StatusBadRequest, Message: "Validation failed"}

	// 401 Unauthorized
	ErrUnauthorized = &APIError{Code: consts.StatusUnauthorized, Message: "Unauthorized"}

	// 403 Forbidden
	ErrForbidden = &APIError{Code: consts.StatusForbidden, Message: "Forbidden"}

	// 404 Not Found
	ErrNotFound = &APIError{Code: consts.StatusNotFound, Message: "Resource not found"}

	// 409 Conflict
	ErrConflict = &APIError{Code: consts.StatusConflict, Message: "Resource conflict"}

	// 429 Too Many Requests
	ErrTooManyRequests = &APIError{Code: consts.StatusTooManyRequests, Message: "Too many requests"}

	// 500 Internal Server Error
	ErrInternalServer  = &APIError{Code: consts.StatusInternalServerError, Message: "Internal server error"}
	ErrDatabaseError   = &APIError{Code: consts.StatusInternalServerError, Message: "Database error"}
	ErrExternalService = &APIError{Code: consts.StatusInternalServerError, Message: "External service error"}

	// 503 Service Unavailable
	ErrServiceUnavailable = &APIError{Code: consts.StatusServiceUnavailable, Message: "Service unavailable"}
)

// ErrorKind 支付业务错误类型
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidOrderType
	KindInvalidAmount
	KindInvalidPackSize
	KindInvalidRelatedID
	KindMissingConsultationID
	KindConsultationNotFound
	KindNotOwner
	KindNotFound
	KindInvalidState
	KindInvalidPaymentMethod
	KindInsufficientBalance
	KindTransient
)

var kindNames = map[ErrorKind]string{
	KindInternal:              "internal",
	KindInvalidOrderType:      "invalid_order_type",
	KindInvalidAmount:         "invalid_amount",
	KindInvalidPackSize:       "invalid_pack_size",
	KindInvalidRelatedID:      "invalid_related_id",
	KindMissingConsultationID: "missing_consultation_id",
	KindConsultationNotFound:  "consultation_not_found",
	KindNotOwner:              "not_owner",
	KindNotFound:              "not_found",
	KindInvalidState:          "invalid_state",
	KindInvalidPaymentMethod:  "invalid_payment_method",
	KindInsufficientBalance:   "insufficient_balance",
	KindTransient:             "transient",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// HTTPStatus 错误类型对应的 HTTP 状态码
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidOrderType, KindInvalidAmount, KindInvalidPackSize, KindInvalidRelatedID,
		KindMissingConsultationID, KindInvalidPaymentMethod:
		return consts.StatusBadRequest
	case KindInsufficientBalance:
		return consts.StatusPaymentRequired
	case KindNotOwner:
		return consts.StatusForbidden
	case KindNotFound, KindConsultationNotFound:
		return consts.StatusNotFound
	case KindInvalidState:
		return consts.StatusConflict
	case KindTransient:
		return consts.StatusServiceUnavailable
	default:
		return consts.StatusInternalServerError
	}
}

// PaymentError 支付业务错误
type PaymentError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *PaymentError) Unwrap() error { return e.Err }

// NewPaymentError 创建支付业务错误
func NewPaymentError(kind ErrorKind, format string, args ...interface{}) *PaymentError {
	return &PaymentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Transient 包装可重试的基础设施错误
func Transient(err error, format string, args ...interface{}) *PaymentError {
	return &PaymentError{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 提取错误类型，非 PaymentError 视为内部错误
func KindOf(err error) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否为指定类型
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsDevelopment 检查是否为开发环境（用于显示详细错误信息）
var IsDevelopment = false

// NewAPIError 创建新的API错误
func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// WithDetails 返回附带详细信息的副本，预定义错误保持不变
func (e *APIError) WithDetails(details string) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithErrorID 返回附带错误ID的副本
func (e *APIError) WithErrorID(errorID string) *APIError {
	cp := *e
	cp.ErrorID = errorID
	return &cp
}

// WrapError 包装错误，将内部错误转换为API错误
func WrapError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.WithDetails(apiErr.Details)
	}

	var pe *PaymentError
	if errors.As(err, &pe) {
		wrapped := &APIError{
			Code:    pe.Kind.HTTPStatus(),
			Kind:    pe.Kind.String(),
			Message: pe.Message,
		}
		if pe.Err != nil {
			wrapped.Details = sanitizeError(pe.Err)
		}
		if pe.Kind == KindInternal {
			wrapped.Message = ErrInternalServer.Message
			wrapped.Details = sanitizeError(err)
		}
		return wrapped
	}

	errStr := strings.ToLower(err.Error())

	// 数据库相关错误
	if strings.Contains(errStr, "database") || strings.Contains(errStr, "sql") {
		return ErrDatabaseError.WithDetails(sanitizeError(err))
	}

	// 网络/外部服务错误
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "timeout") {
		return ErrExternalService.WithDetails(sanitizeError(err))
	}

	// 默认返回内部服务器错误
	return ErrInternalServer.WithDetails(sanitizeError(err))
}

// sanitizeError 清理错误信息，移除敏感信息
func sanitizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// 在开发环境中返回完整错误，生产环境移除敏感信息
	if IsDevelopment {
		return errStr
	}

	sensitivePatterns := []string{
		"password",
		"secret",
		"key",
		"token",
		"credential",
		"dsn",
		"mysql://",
		"postgres://",
	}

	lines := strings.Split(errStr, "\n")
	var safeLines []string
	for _, line := range lines {
		lineLower := strings.ToLower(line)
		isSensitive := false
		for _, pattern := range sensitivePatterns {
			if strings.Contains(lineLower, pattern) {
				isSensitive = true
				break
			}
		}
		if !isSensitive {
			safeLines = append(safeLines, line)
		}
	}

	return strings.Join(safeLines, "\n")
}

// SendError 发送错误响应
func SendError(c *app.RequestContext, err error) {
	apiErr := WrapError(err)

	// 生成错误ID用于日志追踪
	if apiErr.ErrorID == "" {
		apiErr = apiErr.WithErrorID(generateErrorID())
	}

	logError(c, apiErr, err)

	// 在生产环境中移除详细信息
	if !IsDevelopment {
		apiErr.Details = ""
	}

	if apiErr.Code == consts.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(apiErr.Code, apiErr)
}

// SendErrorWithCode 发送指定状态码的错误响应
func SendErrorWithCode(c *app.RequestContext, code int, message string, details ...string) {
	apiErr := NewAPIError(code, message)
	if len(details) > 0 {
		apiErr.Details = details[0]
	}
	SendError(c, apiErr)
}

// logError 记录错误日志
func logError(c *app.RequestContext, apiErr *APIError, originalErr error) {
	fields := []zap.Field{
		zap.String("error_id", apiErr.ErrorID),
		zap.Int("status_code", apiErr.Code),
		zap.String("message", apiErr.Message),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
	}
	if apiErr.Kind != "" {
		fields = append(fields, zap.String("kind", apiErr.Kind))
	}

	if originalErr != nil && originalErr != error(apiErr) {
		fields = append(fields, zap.Error(originalErr))
	}

	if apiErr.Details != "" {
		fields = append(fields, zap.String("details", apiErr.Details))
	}

	// 根据状态码选择日志级别
	switch {
	case apiErr.Code >= 500:
		zap.L().Error("Internal server error", fields...)
	case apiErr.Code == 404 || apiErr.Code == 400:
		// 客户端请求错误，不是服务器问题
		zap.L().Info("Client request error", fields...)
	case apiErr.Code >= 400:
		zap.L().Warn("Client error", fields...)
	default:
		zap.L().Info("Error response", fields...)
	}
}

// generateErrorID 生成错误ID
func generateErrorID() string {
	return "ERR-" + uuid.NewString()[:8]
}

// ErrorHandler 错误处理中间件
func ErrorHandler() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Next(ctx)

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			SendError(c, err)
			c.Abort()
		}
	}
}

// RecoveryHandler 恢复中间件，捕获panic
func RecoveryHandler() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}

				zap.L().Error("Panic recovered",
					zap.Error(err),
					zap.String("path", string(c.Path())),
					zap.String("method", string(c.Method())),
					zap.Stack("stack"))

				SendError(c, ErrInternalServer.WithDetails("An unexpected error occurred"))
				c.Abort()
			}
		}()

		c.Next(ctx)
	}
}
