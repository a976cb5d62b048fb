// Package jwtverify verifies HS256 access tokens signed with the auth service's shared secret.
package jwtverify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/target/portal-api/internal/ports"
)

var _ ports.TokenVerifier = (*Verifier)(nil)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid access token")

// Config holds the shared-secret verification settings.
type Config struct {
	Secret   []byte
	Issuer   string // Optional iss check
	Audience string // Optional aud check
	Leeway   time.Duration
}

// Verifier implements ports.TokenVerifier for HS256 tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// New creates a Verifier. Secret is required.
func New(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{secret: cfg.Secret, parser: jwt.NewParser(opts...)}, nil
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify checks the signature and registered claims and returns the token's identity.
func (v *Verifier) Verify(_ context.Context, rawToken string) (ports.Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ports.Claims{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	var c accessClaims
	_, err := v.parser.ParseWithClaims(rawToken, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return ports.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return ports.Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return ports.Claims{UserID: c.Subject, Email: c.Email}, nil
}
