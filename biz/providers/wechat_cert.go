package providers

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-pay/conf"
	"market-pay/db"
)

// 证书来源
const (
	CertSourceManual  = "manual"
	CertSourceRefresh = "refresh"
)

var (
	// ErrUnknownSerial 没有与序列号匹配的有效平台证书
	ErrUnknownSerial = errors.New("unknown platform certificate serial")
	// ErrRefreshUnavailable 未配置商户私钥，无法拉取平台证书
	ErrRefreshUnavailable = errors.New("certificate refresh not configured")
)

// missRefreshInterval 未知序列号触发刷新的最小间隔
const missRefreshInterval = time.Minute

// DecryptAEAD AEAD_AES_256_GCM 解密，密文为 base64
func DecryptAEAD(key []byte, nonce, associatedData, ciphertext string) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.New("api v3 key must be 32 bytes")
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, []byte(nonce), data, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plain, nil
}

// CertRepository 平台证书持久化
type CertRepository interface {
	ListWechatCerts(ctx context.Context) ([]db.WechatPlatformCert, error)
	UpsertWechatCert(ctx context.Context, cert *db.WechatPlatformCert) error
}

// FetchedCert 从证书接口下载并解密后的证书
type FetchedCert struct {
	SerialNo    string
	PEM         string
	EffectiveAt time.Time
	ExpiresAt   time.Time
}

// CertFetcher 拉取平台证书
type CertFetcher interface {
	FetchCertificates(ctx context.Context) ([]FetchedCert, error)
}

// CertInfo 证书概要（不含 PEM）
type CertInfo struct {
	SerialNo    string    `json:"serial_no"`
	EffectiveAt time.Time `json:"effective_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Source      string    `json:"source"`
	Active      bool      `json:"active"`
}

type platformCert struct {
	info CertInfo
	key  *rsa.PublicKey
}

// CertStore 微信支付平台证书缓存
//
// 轮换期间可能同时存在多张有效证书，按序列号选择；过期或未生效的证书不参与验签。
type CertStore struct {
	repo    CertRepository
	fetcher CertFetcher
	now     func() time.Time

	mu          sync.RWMutex
	certs       map[string]*platformCert
	lastMissRun time.Time
}

// NewCertStore 创建证书缓存；fetcher 可为 nil（仅支持手动导入）
func NewCertStore(repo CertRepository, fetcher CertFetcher) *CertStore {
	return &CertStore{
		repo:    repo,
		fetcher: fetcher,
		now:     time.Now,
		certs:   make(map[string]*platformCert),
	}
}

// Load 从数据库加载全部证书
func (s *CertStore) Load(ctx context.Context) error {
	rows, err := s.repo.ListWechatCerts(ctx)
	if err != nil {
		return fmt.Errorf("list platform certs: %w", err)
	}

	loaded := make(map[string]*platformCert, len(rows))
	for _, row := range rows {
		pc, err := parsePlatformCert(row.SerialNo, row.PEM, row.Source)
		if err != nil {
			zap.L().Warn("Skipping unparseable platform certificate",
				zap.String("serial_no", row.SerialNo), zap.Error(err))
			continue
		}
		loaded[pc.info.SerialNo] = pc
	}

	s.mu.Lock()
	s.certs = loaded
	s.mu.Unlock()
	return nil
}

func (s *CertStore) active(pc *platformCert, now time.Time) bool {
	return !now.Before(pc.info.EffectiveAt) && now.Before(pc.info.ExpiresAt)
}

func (s *CertStore) lookup(serial string) (*rsa.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pc, ok := s.certs[strings.ToUpper(serial)]
	if !ok || !s.active(pc, s.now()) {
		return nil, false
	}
	return pc.key, true
}

// PublicKey 按序列号取验签公钥；未命中时最多每分钟尝试一次远程刷新
func (s *CertStore) PublicKey(ctx context.Context, serial string) (*rsa.PublicKey, error) {
	if key, ok := s.lookup(serial); ok {
		return key, nil
	}

	s.mu.Lock()
	allowed := s.fetcher != nil && s.now().Sub(s.lastMissRun) >= missRefreshInterval
	if allowed {
		s.lastMissRun = s.now()
	}
	s.mu.Unlock()

	if allowed {
		if _, err := s.Refresh(ctx); err != nil {
			zap.L().Warn("Platform certificate refresh on unknown serial failed",
				zap.String("serial_no", serial), zap.Error(err))
		}
		if key, ok := s.lookup(serial); ok {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSerial, serial)
}

// Import 手动导入证书；serial 为空时取证书自身序列号
func (s *CertStore) Import(ctx context.Context, serial, pemText string) (*CertInfo, error) {
	pc, err := parsePlatformCert(serial, pemText, CertSourceManual)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, pc, pemText); err != nil {
		return nil, err
	}
	info := pc.info
	info.Active = s.active(pc, s.now())
	return &info, nil
}

// Refresh 从证书接口拉取并落库，返回写入数量
func (s *CertStore) Refresh(ctx context.Context) (int, error) {
	if s.fetcher == nil {
		return 0, ErrRefreshUnavailable
	}
	fetched, err := s.fetcher.FetchCertificates(ctx)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, fc := range fetched {
		pc, err := parsePlatformCert(fc.SerialNo, fc.PEM, CertSourceRefresh)
		if err != nil {
			zap.L().Warn("Skipping invalid downloaded certificate",
				zap.String("serial_no", fc.SerialNo), zap.Error(err))
			continue
		}
		if !fc.EffectiveAt.IsZero() {
			pc.info.EffectiveAt = fc.EffectiveAt
		}
		if !fc.ExpiresAt.IsZero() {
			pc.info.ExpiresAt = fc.ExpiresAt
		}
		if err := s.save(ctx, pc, fc.PEM); err != nil {
			return saved, err
		}
		saved++
	}
	zap.L().Info("Platform certificates refreshed", zap.Int("count", saved))
	return saved, nil
}

func (s *CertStore) save(ctx context.Context, pc *platformCert, pemText string) error {
	row := &db.WechatPlatformCert{
		SerialNo:    pc.info.SerialNo,
		PEM:         pemText,
		EffectiveAt: pc.info.EffectiveAt,
		ExpiresAt:   pc.info.ExpiresAt,
		Source:      pc.info.Source,
	}
	if err := s.repo.UpsertWechatCert(ctx, row); err != nil {
		return fmt.Errorf("save platform cert: %w", err)
	}

	s.mu.Lock()
	s.certs[pc.info.SerialNo] = pc
	s.mu.Unlock()
	return nil
}

// List 全部证书，按过期时间倒序
func (s *CertStore) List() []CertInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]CertInfo, 0, len(s.certs))
	for _, pc := range s.certs {
		info := pc.info
		info.Active = s.active(pc, now)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out
}

func parsePlatformCert(serial, pemText, source string) (*platformCert, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	key, err := certPublicKey(cert)
	if err != nil {
		return nil, err
	}
	if serial == "" {
		serial = cert.SerialNumber.Text(16)
	}
	return &platformCert{
		info: CertInfo{
			SerialNo:    strings.ToUpper(serial),
			EffectiveAt: cert.NotBefore,
			ExpiresAt:   cert.NotAfter,
			Source:      source,
		},
		key: key,
	}, nil
}

// WechatCertClient 调用 /v3/certificates 下载平台证书
type WechatCertClient struct {
	cli      *client.Client
	apiBase  string
	mchID    string
	serial   string
	key      *rsa.PrivateKey
	apiV3Key []byte
}

// NewWechatCertClient 需要商户号、商户证书序列号与商户私钥
func NewWechatCertClient(cfg conf.WechatConfig) (*WechatCertClient, error) {
	if cfg.PrivateKey == "" || cfg.MchID == "" || cfg.MerchantSerial == "" {
		return nil, ErrRefreshUnavailable
	}
	key, err := ParseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("wechat merchant key: %w", err)
	}
	cli, err := client.NewClient(
		client.WithDialTimeout(5*time.Second),
		client.WithClientReadTimeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &WechatCertClient{
		cli:      cli,
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		mchID:    cfg.MchID,
		serial:   cfg.MerchantSerial,
		key:      key,
		apiV3Key: []byte(cfg.APIv3Key),
	}, nil
}

// authorization WECHATPAY2-SHA256-RSA2048 请求签名
func (w *WechatCertClient) authorization(method, path string, body []byte, ts int64, nonce string) (string, error) {
	message := fmt.Sprintf("%s\n%s\n%d\n%s\n%s\n", method, path, ts, nonce, body)
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, w.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",signature="%s",timestamp="%d",serial_no="%s"`,
		w.mchID, nonce, base64.StdEncoding.EncodeToString(sig), ts, w.serial), nil
}

type certificatesResponse struct {
	Data []struct {
		SerialNo           string    `json:"serial_no"`
		EffectiveTime      time.Time `json:"effective_time"`
		ExpireTime         time.Time `json:"expire_time"`
		EncryptCertificate struct {
			Algorithm      string `json:"algorithm"`
			Nonce          string `json:"nonce"`
			AssociatedData string `json:"associated_data"`
			Ciphertext     string `json:"ciphertext"`
		} `json:"encrypt_certificate"`
	} `json:"data"`
}

// FetchCertificates 下载并解密平台证书
func (w *WechatCertClient) FetchCertificates(ctx context.Context) ([]FetchedCert, error) {
	const path = "/v3/certificates"
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	auth, err := w.authorization(consts.MethodGet, path, nil, time.Now().Unix(), nonce)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(w.apiBase + path)
	req.SetMethod(consts.MethodGet)
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")

	if err := w.cli.Do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("request certificates: %w", err)
	}
	if resp.StatusCode() != consts.StatusOK {
		return nil, fmt.Errorf("request certificates: status %d: %s", resp.StatusCode(), resp.Body())
	}

	var payload certificatesResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("decode certificates: %w", err)
	}

	out := make([]FetchedCert, 0, len(payload.Data))
	for _, item := range payload.Data {
		enc := item.EncryptCertificate
		plain, err := DecryptAEAD(w.apiV3Key, enc.Nonce, enc.AssociatedData, enc.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypt certificate %s: %w", item.SerialNo, err)
		}
		out = append(out, FetchedCert{
			SerialNo:    item.SerialNo,
			PEM:         string(plain),
			EffectiveAt: item.EffectiveTime,
			ExpiresAt:   item.ExpireTime,
		})
	}
	return out, nil
}
