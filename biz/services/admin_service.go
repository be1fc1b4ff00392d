package services

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"market-pay/biz/models"
	"market-pay/biz/providers"
	"market-pay/common"
	"market-pay/db"
)

const maskedValue = "***"

// sensitiveKeys 管理端展示前脱敏的字段
var sensitiveKeys = map[string]bool{
	"sign":            true,
	"signature":       true,
	"ciphertext":      true,
	"nonce":           true,
	"associated_data": true,
	"buyer_id":        true,
	"buyer_logon_id":  true,
	"openid":          true,
	"payer":           true,
	"email":           true,
	"phone":           true,
	"card":            true,
	"client_secret":   true,
}

func maskJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			if sensitiveKeys[strings.ToLower(k)] {
				val[k] = maskedValue
				continue
			}
			val[k] = maskJSON(child)
		}
		return val
	case []interface{}:
		for i, child := range val {
			val[i] = maskJSON(child)
		}
		return val
	default:
		return v
	}
}

// MaskPayload 脱敏原始报文：JSON 与 form 按字段脱敏，其余保留首尾
func MaskPayload(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if out, err := json.Marshal(maskJSON(v)); err == nil {
				return string(out)
			}
		}
	}

	if strings.Contains(trimmed, "=") {
		if values, err := url.ParseQuery(trimmed); err == nil {
			for k := range values {
				if sensitiveKeys[strings.ToLower(k)] {
					values[k] = []string{maskedValue}
				}
			}
			return values.Encode()
		}
	}

	// 按字符截断，避免切开多字节字符
	const keep = 6
	runes := []rune(trimmed)
	if len(runes) > 256 {
		runes = runes[:256]
	}
	if len(runes) <= keep*2 {
		return maskedValue
	}
	return string(runes[:keep]) + maskedValue + string(runes[len(runes)-keep:])
}

// AdminService 管理端：回调查询、统计、对账、证书与配置维护
type AdminService struct {
	store     *db.Store
	reconcile *ReconcileService
	certs     *providers.CertStore
	now       func() time.Time
}

// NewAdminService 创建管理服务
func NewAdminService(store *db.Store, reconcile *ReconcileService, certs *providers.CertStore) *AdminService {
	return &AdminService{store: store, reconcile: reconcile, certs: certs, now: time.Now}
}

func eventView(e db.CallbackEvent) models.CallbackEventView {
	view := models.CallbackEventView{
		ID:            e.ID,
		Provider:      e.Provider,
		OrderNo:       e.OrderNo,
		TradeNo:       e.ReportedTradeNo,
		PaymentMethod: e.PaymentMethod,
		Amount:        e.Amount.StringFixed(2),
		Verified:      e.Verified,
		ErrorMessage:  e.ErrorMessage,
		RawPayload:    MaskPayload(e.RawPayload),
		CreatedAt:     e.CreatedAt,
	}
	if e.TradeNo != nil {
		view.TradeNo = *e.TradeNo
	}
	return view
}

// ListCallbacks 分页查询回调记录
func (s *AdminService) ListCallbacks(ctx context.Context, f db.EventFilter) ([]models.CallbackEventView, int64, error) {
	events, total, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	views := make([]models.CallbackEventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView(e))
	}
	return views, total, nil
}

// Stats 最近 hours 小时的回调与订单统计
func (s *AdminService) Stats(ctx context.Context, hours int) (*models.CallbackStatsResponse, error) {
	if hours <= 0 {
		hours = 24
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)

	stats, err := s.store.CountEvents(ctx, since)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.store.CountOrdersByStatus(ctx, since)
	if err != nil {
		return nil, err
	}

	resp := &models.CallbackStatsResponse{
		Hours:       hours,
		Total:       stats.Total,
		Verified:    stats.Verified,
		Failed:      stats.Failed,
		OrderStatus: make(map[string]int64, len(byStatus)),
	}
	for status, n := range byStatus {
		resp.OrderStatus[string(status)] = n
	}
	if stats.Total > 0 {
		resp.SuccessRatio = float64(stats.Verified) / float64(stats.Total)
	}
	return resp, nil
}

// Reconcile 对账诊断，回调报文脱敏后返回
func (s *AdminService) Reconcile(ctx context.Context, orderNo string) (*Diagnosis, error) {
	d, err := s.reconcile.Reconcile(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if d.LatestEvent != nil {
		d.LatestEvent.RawPayload = MaskPayload(d.LatestEvent.RawPayload)
	}
	if d.VerifiedEvent != nil {
		d.VerifiedEvent.RawPayload = MaskPayload(d.VerifiedEvent.RawPayload)
	}
	return d, nil
}

// ListCerts 平台证书列表
func (s *AdminService) ListCerts() []providers.CertInfo {
	return s.certs.List()
}

// ImportCert 手动导入平台证书
func (s *AdminService) ImportCert(ctx context.Context, serial, pemText string) (*providers.CertInfo, error) {
	info, err := s.certs.Import(ctx, serial, pemText)
	if err != nil {
		return nil, common.ErrValidationFailed.WithDetails(err.Error())
	}
	zap.L().Info("Platform certificate imported",
		zap.String("serial_no", info.SerialNo),
		zap.Time("expires_at", info.ExpiresAt))
	return info, nil
}

// RefreshCerts 从微信拉取平台证书
func (s *AdminService) RefreshCerts(ctx context.Context) (int, error) {
	n, err := s.certs.Refresh(ctx)
	if err != nil {
		return 0, common.ErrExternalService.WithDetails(err.Error())
	}
	return n, nil
}

// GetConfig 读取系统配置
func (s *AdminService) GetConfig(ctx context.Context, key string) (string, error) {
	value, ok, err := s.store.GetConfigValue(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", common.NewPaymentError(common.KindNotFound, "config %s not found", key)
	}
	return value, nil
}

// SetConfig 校验后写入系统配置
func (s *AdminService) SetConfig(ctx context.Context, key, value string) error {
	if err := ValidateConfigValue(key, value); err != nil {
		return common.ErrValidationFailed.WithDetails(err.Error())
	}
	if err := s.store.SetConfigValue(ctx, key, value); err != nil {
		return err
	}
	zap.L().Info("System config updated", zap.String("key", key))
	return nil
}
