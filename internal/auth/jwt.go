// Package auth validates bearer tokens on the Control Plane's admin
// surface. Token issuance, refresh, and the login flow that produces a
// token in the first place stay with the external auth collaborator the
// platform spec calls out — this package only verifies a token signed with
// JWT_SECRET and extracts its subject.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set this platform expects an externally
// issued token to carry.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Validator verifies bearer tokens signed with a shared HMAC secret.
type Validator struct {
	secret []byte
}

// NewValidator creates a Validator using secret (JWT_SECRET).
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate parses and verifies tokenString, rejecting anything not signed
// with HMAC (blocking the classic "alg":"none" and algorithm-substitution
// attacks) or expired.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parsing bearer token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid bearer token")
	}
	return claims, nil
}
