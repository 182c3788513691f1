// Package token issues and verifies the signed credentials used across the
// API: short-lived access tokens, long-lived refresh tokens, and single-use
// reset/verification tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose tags a token with what it may be used for. Verification checks the
// purpose, not just the signature, so a password-reset token can never pass as
// an access token.
type Purpose string

const (
	PurposeAccess            Purpose = "access"
	PurposeRefresh           Purpose = "refresh"
	PurposeResetPassword     Purpose = "resetPassword"
	PurposeEmailVerification Purpose = "emailVerification"
)

// Max age per purpose. Access is deliberately short to limit the replay
// window; refresh persists across sessions.
var maxAge = map[Purpose]time.Duration{
	PurposeAccess:            30 * time.Minute,
	PurposeRefresh:           365 * 24 * time.Hour,
	PurposeResetPassword:     1 * time.Hour,
	PurposeEmailVerification: 24 * time.Hour,
}

// UserData is the identity payload embedded in every token.
type UserData struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
}

type claims struct {
	UserData
	Purpose Purpose `json:"pur"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens with a single symmetric secret.
type Service struct {
	secret []byte
	now    func() time.Time
}

// New fails when the signing secret is empty. Callers treat that as a startup
// misconfiguration, not a per-request error.
func New(secret string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret is not configured")
	}
	return &Service{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token carrying the user payload and purpose tag.
func (s *Service) Issue(purpose Purpose, user UserData) (string, error) {
	age, ok := maxAge[purpose]
	if !ok {
		return "", fmt.Errorf("token: unknown purpose %q", purpose)
	}

	now := s.now()
	c := claims{
		UserData: user,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(age)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Verify returns the payload when the signature is valid, the token has not
// expired, and the purpose matches. Any failure degrades to (nil, false) —
// malformed input means "unauthenticated", never a crashed request.
func (s *Service) Verify(purpose Purpose, tokenString string) (*UserData, bool) {
	if tokenString == "" {
		return nil, false
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if c.Purpose != purpose {
		return nil, false
	}

	user := c.UserData
	return &user, true
}
