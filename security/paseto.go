package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/o1egl/paseto"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrTokenExpired is returned for tokens past their expiry
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for tokens that fail decryption or claim checks
	ErrTokenInvalid = errors.New("invalid token")
)

// TokenManager issues and validates v2.local PASETO tokens for the admin API.
type TokenManager struct {
	symmetricKey []byte
	issuer       string
	audience     string
	now          func() time.Time
}

// TokenClaims represents the claims in a PASETO token
type TokenClaims struct {
	Subject   string                 `json:"sub,omitempty"`
	Issuer    string                 `json:"iss,omitempty"`
	Audience  string                 `json:"aud,omitempty"`
	Jti       string                 `json:"jti,omitempty"`
	IssuedAt  time.Time              `json:"iat,omitempty"`
	NotBefore time.Time              `json:"nbf,omitempty"`
	ExpiredAt time.Time              `json:"exp,omitempty"`
	Custom    map[string]interface{} `json:"custom,omitempty"`
}

// NewTokenManager derives the token key from secret.
func NewTokenManager(secret, issuer, audience string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	return &TokenManager{
		symmetricKey: deriveKey(secret, "paseto-symmetric-key", chacha20poly1305.KeySize),
		issuer:       issuer,
		audience:     audience,
		now:          time.Now,
	}, nil
}

// NewTokenManagerFromEnv reads the token secret from keyEnv.
func NewTokenManagerFromEnv(keyEnv, issuer, audience string) (*TokenManager, error) {
	secret := os.Getenv(keyEnv)
	if secret == "" {
		return nil, fmt.Errorf("token key environment variable %s not set", keyEnv)
	}
	return NewTokenManager(secret, issuer, audience)
}

// GenerateToken issues a token for subject valid for expiration.
func (m *TokenManager) GenerateToken(subject string, expiration time.Duration, custom map[string]interface{}) (string, error) {
	footer, err := json.Marshal(map[string]interface{}{"kid": "key-1"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal footer: %w", err)
	}

	now := m.now()
	claims := TokenClaims{
		Subject:   subject,
		Issuer:    m.issuer,
		Audience:  m.audience,
		Jti:       fmt.Sprintf("%d", now.UnixNano()),
		IssuedAt:  now,
		NotBefore: now,
		ExpiredAt: now.Add(expiration),
		Custom:    custom,
	}

	token, err := paseto.NewV2().Encrypt(m.symmetricKey, claims, footer)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

// ValidateToken decrypts token and checks its time window, issuer and audience.
func (m *TokenManager) ValidateToken(token string) (*TokenClaims, error) {
	var claims TokenClaims
	var footer string
	if err := paseto.NewV2().Decrypt(token, m.symmetricKey, &claims, &footer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := m.now()
	switch {
	case claims.ExpiredAt.Before(now):
		return nil, ErrTokenExpired
	case claims.NotBefore.After(now):
		return nil, fmt.Errorf("%w: not valid yet", ErrTokenInvalid)
	case claims.Issuer != m.issuer:
		return nil, fmt.Errorf("%w: issuer", ErrTokenInvalid)
	case claims.Audience != m.audience:
		return nil, fmt.Errorf("%w: audience", ErrTokenInvalid)
	}
	return &claims, nil
}
