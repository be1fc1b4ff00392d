package common

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"market-pay/conf"
)

const (
	ctxKeyAPIKey = "api_key"
	ctxKeyAdmin  = "is_admin"
	ctxKeyUserID = "user_id"
)

// Authenticator API Key 认证；用户身份由上游网关通过请求头注入
type Authenticator struct {
	enabled    bool
	apiKeys    map[string]bool
	adminKeys  map[string]bool
	userHeader string
}

// NewAuthenticator 根据配置创建认证器
func NewAuthenticator(cfg conf.AuthConfig) *Authenticator {
	a := &Authenticator{
		enabled:    cfg.Enabled,
		apiKeys:    make(map[string]bool),
		adminKeys:  make(map[string]bool),
		userHeader: cfg.UserHeader,
	}
	for _, key := range cfg.APIKeys {
		a.apiKeys[key] = true
	}
	for _, key := range cfg.AdminAPIKeys {
		a.adminKeys[key] = true
	}
	if a.userHeader == "" {
		a.userHeader = "X-User-ID"
	}

	zap.L().Info("Auth initialized",
		zap.Int("api_keys_count", len(a.apiKeys)),
		zap.Int("admin_keys_count", len(a.adminKeys)),
		zap.Bool("enabled", a.enabled))
	return a
}

// UserHeader 用户ID请求头名称
func (a *Authenticator) UserHeader() string {
	return a.userHeader
}

// GenerateAPIKey 生成新的 API Key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

func containsKey(keys map[string]bool, candidate string) bool {
	found := false
	for key := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			found = true
		}
	}
	return found
}

// ValidateAPIKey 验证 API Key，管理员 Key 同样有效
func (a *Authenticator) ValidateAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	return containsKey(a.apiKeys, apiKey) || containsKey(a.adminKeys, apiKey)
}

// ValidateAdminAPIKey 验证管理员 API Key
func (a *Authenticator) ValidateAdminAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	return containsKey(a.adminKeys, apiKey)
}

// ExtractAPIKey 从请求中提取 API Key
func ExtractAPIKey(c *app.RequestContext) string {
	if apiKey := string(c.GetHeader("X-API-Key")); apiKey != "" {
		return apiKey
	}

	authHeader := string(c.GetHeader("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return authHeader
	}
	return ""
}

// UserMiddleware 订单接口认证：校验 API Key 并要求网关注入用户ID
func (a *Authenticator) UserMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if a.enabled {
			apiKey := ExtractAPIKey(c)
			if !a.ValidateAPIKey(apiKey) {
				zap.L().Warn("Invalid or missing API key",
					zap.String("path", string(c.Path())),
					zap.String("ip", c.ClientIP()),
					zap.String("api_key_prefix", maskAPIKey(apiKey)))
				SendError(c, ErrUnauthorized.WithDetails("valid API key is required"))
				c.Abort()
				return
			}
			c.Set(ctxKeyAPIKey, apiKey)
		}

		userID := strings.TrimSpace(string(c.GetHeader(a.userHeader)))
		if userID == "" {
			SendError(c, ErrUnauthorized.WithDetails(a.userHeader+" header is required"))
			c.Abort()
			return
		}
		c.Set(ctxKeyUserID, userID)
		c.Next(ctx)
	}
}

// AdminMiddleware 管理员接口认证
func (a *Authenticator) AdminMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if !a.enabled {
			c.Set(ctxKeyAdmin, true)
			c.Next(ctx)
			return
		}

		apiKey := ExtractAPIKey(c)
		if apiKey == "" {
			SendError(c, ErrUnauthorized.WithDetails("Admin API key is required"))
			c.Abort()
			return
		}
		if !a.ValidateAdminAPIKey(apiKey) {
			zap.L().Warn("Invalid admin API key",
				zap.String("path", string(c.Path())),
				zap.String("ip", c.ClientIP()),
				zap.String("api_key_prefix", maskAPIKey(apiKey)))
			SendError(c, ErrForbidden.WithDetails("Admin access required"))
			c.Abort()
			return
		}

		c.Set(ctxKeyAPIKey, apiKey)
		c.Set(ctxKeyAdmin, true)
		c.Next(ctx)
	}
}

// maskAPIKey 掩码 API Key（用于日志，只显示前4位和后4位）
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

// UserIDFromContext 获取网关注入的用户ID
func UserIDFromContext(c *app.RequestContext) string {
	return c.GetString(ctxKeyUserID)
}

// IsAdminFromContext 从上下文检查是否为管理员
func IsAdminFromContext(c *app.RequestContext) bool {
	return c.GetBool(ctxKeyAdmin)
}
