package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"calculogic/internal/builder"
)

const (
	tokenIssuer     = "calculogic"
	sessionAudience = "calculogic-session"
	nonceAudience   = "calculogic-nonce"
)

var (
	errInvalidSession = errors.New("invalid session token")
	errInvalidNonce   = errors.New("invalid nonce")
)

// tokenClaims is the claim set of both session and nonce tokens.
type tokenClaims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin,omitempty"`
}

// Sessions issues and verifies the HS256 tokens that identify callers
// (sessions) and guard state-changing requests (nonces).
type Sessions struct {
	secret   []byte
	nonceTTL time.Duration
	now      func() time.Time
}

// NewSessions creates a Sessions signing with secret.
func NewSessions(secret string, nonceTTL time.Duration) *Sessions {
	return &Sessions{secret: []byte(secret), nonceTTL: nonceTTL, now: time.Now}
}

// IssueSession mints a session token for p. A zero ttl never expires.
func (s *Sessions) IssueSession(p builder.Principal, ttl time.Duration) (string, error) {
	if p.Anonymous() {
		return "", fmt.Errorf("session requires a user id")
	}
	now := s.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  p.UserID,
			Audience: jwt.ClaimStrings{sessionAudience},
			IssuedAt: jwt.NewNumericDate(now),
		},
		Admin: p.Admin,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return s.sign(claims)
}

// ParseSession verifies a session token and returns the principal it names.
func (s *Sessions) ParseSession(raw string) (builder.Principal, error) {
	claims, err := s.parse(raw, sessionAudience)
	if err != nil {
		return builder.Principal{}, fmt.Errorf("%w: %v", errInvalidSession, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return builder.Principal{}, fmt.Errorf("%w: missing subject", errInvalidSession)
	}
	return builder.Principal{UserID: claims.Subject, Admin: claims.Admin}, nil
}

// IssueNonce mints a nonce bound to p's user id. Anonymous callers get a
// nonce bound to no user.
func (s *Sessions) IssueNonce(p builder.Principal) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.nonceTTL)
	token, err := s.sign(tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   p.UserID,
			Audience:  jwt.ClaimStrings{nonceAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	})
	return token, expires, err
}

// VerifyNonce checks that raw is an unexpired nonce issued to p.
func (s *Sessions) VerifyNonce(raw string, p builder.Principal) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: missing", errInvalidNonce)
	}
	claims, err := s.parse(raw, nonceAudience)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidNonce, err)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("%w: missing expiry", errInvalidNonce)
	}
	if claims.Subject != p.UserID {
		return fmt.Errorf("%w: issued to another user", errInvalidNonce)
	}
	return nil
}

func (s *Sessions) sign(claims tokenClaims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *Sessions) parse(raw, audience string) (*tokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}
