package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateAcceptsAWellFormedHS256Token(t *testing.T) {
	v := NewValidator("shared-secret")
	signed := signToken(t, "shared-secret", Claims{
		Subject: "operator@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "operator@example.com", claims.Subject)
}

func TestValidateRejectsATokenSignedWithTheWrongSecret(t *testing.T) {
	v := NewValidator("shared-secret")
	signed := signToken(t, "attacker-secret", Claims{Subject: "operator@example.com"})

	_, err := v.Validate(signed)
	assert.Error(t, err)
}

func TestValidateRejectsAnExpiredToken(t *testing.T) {
	v := NewValidator("shared-secret")
	signed := signToken(t, "shared-secret", Claims{
		Subject: "operator@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := v.Validate(signed)
	assert.Error(t, err)
}

func TestValidateRejectsAnAlgNoneToken(t *testing.T) {
	v := NewValidator("shared-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Subject: "operator@example.com"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Validate(signed)
	assert.Error(t, err)
}

func TestValidateRejectsAnHS384Token(t *testing.T) {
	// Algorithm-substitution guard: even a well-formed, unexpired token
	// signed with the right secret is rejected if its method is anything
	// other than HS256, including another HMAC variant.
	v := NewValidator("shared-secret")

	claims := Claims{Subject: "operator@example.com"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.Validate(signed)
	assert.Error(t, err, "HS384 is not in the allowed method list")
}

func TestValidateRejectsGarbageInput(t *testing.T) {
	v := NewValidator("shared-secret")
	_, err := v.Validate("not.a.jwt")
	assert.Error(t, err)
}
