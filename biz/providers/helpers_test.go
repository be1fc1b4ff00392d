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
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"market-pay/db"
)

var (
	keyOnce  sync.Once
	testKey  *rsa.PrivateKey
	otherKey *rsa.PrivateKey
)

// rsaKeys 测试共用密钥对，生成一次
func rsaKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if otherKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return testKey, otherKey
}

func publicKeyPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func rsaSign(t *testing.T, key *rsa.PrivateKey, message string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func certPEM(t *testing.T, key *rsa.PrivateKey, serial int64, notBefore, notAfter time.Time) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "Tenpay.com Root CA"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func encryptAEAD(t *testing.T, key []byte, nonce, aad string, plain []byte) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(gcm.Seal(nil, []byte(nonce), plain, []byte(aad)))
}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// memCertRepo 内存证书表
type memCertRepo struct {
	mu   sync.Mutex
	rows map[string]db.WechatPlatformCert
}

func newMemCertRepo() *memCertRepo {
	return &memCertRepo{rows: make(map[string]db.WechatPlatformCert)}
}

func (r *memCertRepo) ListWechatCerts(context.Context) ([]db.WechatPlatformCert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]db.WechatPlatformCert, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out, nil
}

func (r *memCertRepo) UpsertWechatCert(_ context.Context, cert *db.WechatPlatformCert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[cert.SerialNo] = *cert
	return nil
}

// stubFetcher 统计调用次数的证书下载
type stubFetcher struct {
	mu    sync.Mutex
	calls int
	certs []FetchedCert
}

func (f *stubFetcher) FetchCertificates(context.Context) ([]FetchedCert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.certs, nil
}
