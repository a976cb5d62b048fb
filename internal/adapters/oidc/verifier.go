// Package oidc verifies access tokens issued by an OpenID Connect provider.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/target/portal-api/internal/ports"
)

var _ ports.TokenVerifier = (*Verifier)(nil)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid access token")

// Verifier implements ports.TokenVerifier using the issuer's published signing keys.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

// VerifierConfig holds configuration for the OIDC verifier.
type VerifierConfig struct {
	// IssuerURL must match the iss claim. Discovery is performed against it unless JWKSURL is set.
	IssuerURL string
	// JWKSURL skips discovery and loads keys directly.
	JWKSURL string
	// Audience is matched against the aud claim. Empty disables the check.
	Audience   string
	HTTPClient *http.Client // Optional, defaults to a client with a 30s timeout
}

// NewVerifier creates a Verifier. With no JWKSURL the issuer's discovery document is fetched once.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx = gooidc.ClientContext(ctx, httpClient)

	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")

	oc := &gooidc.Config{ClientID: cfg.Audience, SkipClientIDCheck: cfg.Audience == ""}
	if cfg.JWKSURL != "" {
		keys := gooidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		return &Verifier{verifier: gooidc.NewVerifier(issuer, keys, oc)}, nil
	}

	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	return &Verifier{verifier: op.Verifier(oc)}, nil
}

type accessClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
}

// Verify checks the token signature, issuer, audience and expiry and returns its claims.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (ports.Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ports.Claims{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return ports.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	var c accessClaims
	if claimsErr := tok.Claims(&c); claimsErr != nil {
		return ports.Claims{}, fmt.Errorf("%w: parse claims: %w", ErrInvalidToken, claimsErr)
	}
	if c.Subject == "" {
		return ports.Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return ports.Claims{UserID: c.Subject, Email: c.Email}, nil
}

