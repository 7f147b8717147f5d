// Package token issues and verifies short-lived JWTs scoping a bearer to a
// single sandbox, the credential a sandbox's running agent presents back to
// the control plane's API.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSigningDisabled = errors.New("controlplane/token: signing disabled, no secret configured")
	ErrInvalidToken    = errors.New("controlplane/token: invalid or expired token")
)

// DefaultExpiry matches the lifetime of a sandbox agent credential: long
// enough to outlive a single task, short enough that a leaked token expires
// on its own.
const DefaultExpiry = 24 * time.Hour

// SandboxClaims identifies the sandbox and acting owner a token was issued
// for.
type SandboxClaims struct {
	SandboxID string `json:"sandbox_id"`
	Owner     string `json:"owner,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies sandbox-scoped tokens.
type Service struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewService builds a token Service. expiry<=0 falls back to DefaultExpiry.
func NewService(secret, issuer string, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Service{secret: []byte(secret), expiry: expiry, issuer: issuer}
}

// Generate issues a signed token scoping the bearer to sandboxID.
func (s *Service) Generate(sandboxID, owner string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrSigningDisabled
	}
	sandboxID = strings.TrimSpace(sandboxID)
	if sandboxID == "" {
		return "", fmt.Errorf("controlplane/token: sandbox id required")
	}

	now := time.Now()
	claims := SandboxClaims{
		SandboxID: sandboxID,
		Owner:     strings.TrimSpace(owner),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sandboxID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

// Verify parses and validates a token, returning the sandbox it scopes to.
func (s *Service) Verify(raw string) (*SandboxClaims, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrSigningDisabled
	}

	parsed, err := jwt.ParseWithClaims(raw, &SandboxClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*SandboxClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.SandboxID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
