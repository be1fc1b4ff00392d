package providers

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrBadSignature 签名不匹配
var ErrBadSignature = errors.New("signature mismatch")

// SignatureScheme 对规范化报文做签名校验
type SignatureScheme interface {
	Verify(message []byte, signature string) error
}

// RSA2Scheme SHA256withRSA（PKCS#1 v1.5），签名为 base64
type RSA2Scheme struct {
	Key *rsa.PublicKey
}

func (s RSA2Scheme) Verify(message []byte, signature string) error {
	if s.Key == nil {
		return errors.New("public key not configured")
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(s.Key, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

// HMACScheme HMAC-SHA256，签名为十六进制
type HMACScheme struct {
	Secret []byte
}

// Sign 计算签名
func (s HMACScheme) Sign(message []byte) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s HMACScheme) Verify(message []byte, signature string) error {
	if len(s.Secret) == 0 {
		return errors.New("secret not configured")
	}
	expected, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write(message)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrBadSignature
	}
	return nil
}

// MD5KeyScheme md5(报文 + 密钥)，小写十六进制
type MD5KeyScheme struct {
	Key string
}

// Sign 计算签名
func (s MD5KeyScheme) Sign(message []byte) string {
	sum := md5.Sum(append(append([]byte{}, message...), s.Key...))
	return hex.EncodeToString(sum[:])
}

func (s MD5KeyScheme) Verify(message []byte, signature string) error {
	if s.Key == "" {
		return errors.New("key not configured")
	}
	expected := s.Sign(message)
	got := strings.ToLower(strings.TrimSpace(signature))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// ParseRSAPublicKey 解析公钥，支持 PEM、裸 base64（PKIX 或 PKCS#1）以及 X.509 证书
func ParseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty public key")
	}

	var der []byte
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			return certPublicKey(cert)
		}
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		der = decoded
	}

	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey 解析 PEM 私钥（PKCS#8 或 PKCS#1）
func ParseRSAPrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(raw)))
	if block == nil {
		return nil, errors.New("private key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func certPublicKey(cert *x509.Certificate) (*rsa.PublicKey, error) {
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate key is not RSA")
	}
	return key, nil
}
