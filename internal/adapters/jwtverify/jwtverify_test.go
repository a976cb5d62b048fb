package jwtverify

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/portal-api/internal/ports"
)

var testSecret = []byte("super-secret-jwt-token-with-at-least-32-characters")

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"email": "alice@example.com",
		"aud":   "authenticated",
		"iss":   "https://auth.example.com/auth/v1",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestVerifier_Verify(t *testing.T) {
	v, err := New(Config{Secret: testSecret, Issuer: "https://auth.example.com/auth/v1", Audience: "authenticated"})
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), " "+sign(t, jwt.SigningMethodHS256, testSecret, validClaims())+" ")
	require.NoError(t, err)
	assert.Equal(t, ports.Claims{UserID: "user-1", Email: "alice@example.com"}, claims)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := New(Config{Secret: testSecret, Audience: "authenticated"})
	require.NoError(t, err)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	noExp := validClaims()
	delete(noExp, "exp")
	noSub := validClaims()
	delete(noSub, "sub")
	otherAud := validClaims()
	otherAud["aud"] = "service_role"

	tests := map[string]string{
		"empty":        "",
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("another-secret"), validClaims()),
		"wrong alg":    sign(t, jwt.SigningMethodHS512, testSecret, validClaims()),
		"expired":      sign(t, jwt.SigningMethodHS256, testSecret, expired),
		"no expiry":    sign(t, jwt.SigningMethodHS256, testSecret, noExp),
		"no subject":   sign(t, jwt.SigningMethodHS256, testSecret, noSub),
		"audience":     sign(t, jwt.SigningMethodHS256, testSecret, otherAud),
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
