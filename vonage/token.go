// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package vonage

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of an issued application token
const DefaultTokenTTL = 15 * time.Minute

// TokenSource issues bearer tokens for the carrier API
type TokenSource interface {
	Token() (string, error)
}

// Claims are the application token claims expected by the Vonage API
type Claims struct {
	ApplicationID string `json:"application_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs a new RS256 application token on every call. Tokens are
// never cached, so each request carries its own jti.
type TokenIssuer struct {
	appID string
	key   *rsa.PrivateKey
	ttl   time.Duration
	now   func() time.Time
}

func NewTokenIssuer(appID string, key *rsa.PrivateKey, ttl time.Duration) (*TokenIssuer, error) {
	if appID == "" {
		return nil, fmt.Errorf("vonage: application id is required")
	}
	if key == nil {
		return nil, fmt.Errorf("vonage: private key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{appID: appID, key: key, ttl: ttl, now: time.Now}, nil
}

// Token signs a fresh token
func (t *TokenIssuer) Token() (string, error) {
	now := t.now()
	claims := Claims{
		ApplicationID: t.appID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("vonage: sign token: %w", err)
	}
	return signed, nil
}

// LoadPrivateKey reads a PEM encoded RSA private key
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vonage: read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("vonage: parse private key %s: %w", path, err)
	}
	return key, nil
}
