package config

import (
	"strings"
	"time"
)

// VerifierMode selects how the portal API verifies access tokens.
type VerifierMode string

const (
	// VerifierJWKS verifies RS256/ES256 tokens against the issuer's published keys.
	VerifierJWKS VerifierMode = "jwks"
	// VerifierHS256 verifies tokens signed with the project's shared JWT secret.
	VerifierHS256 VerifierMode = "hs256"
	// VerifierNone means no verifier is configured; authenticated routes are disabled.
	VerifierNone VerifierMode = ""
)

// AuthConfig groups configuration of the hosted auth service.
type AuthConfig struct {
	// URL is the auth API root, e.g. https://project.example.com/auth/v1.
	URL string `env:"AUTH_URL"`

	// AnonKey is the project's public API key, sent on every auth request.
	AnonKey string `env:"AUTH_ANON_KEY"`

	// JWTSecret verifies HS256 access tokens on the server.
	JWTSecret string `env:"AUTH_JWT_SECRET"`

	// IssuerURL is the expected token issuer. With JWKSURL empty it is also used for discovery.
	// Setting it selects key-set verification.
	IssuerURL string `env:"AUTH_ISSUER_URL"`

	// JWKSURL points at the issuer's key set; it skips OIDC discovery.
	JWKSURL string `env:"AUTH_JWKS_URL"`

	// Audience is the expected aud claim. Empty disables the check.
	Audience string `env:"AUTH_AUDIENCE" envDefault:"authenticated"`

	// RefreshMargin is how long before expiry the client refreshes its access token.
	RefreshMargin time.Duration `env:"AUTH_REFRESH_MARGIN" envDefault:"60s"`

	// SessionKey names the persisted session of this client.
	SessionKey string `env:"AUTH_SESSION_KEY" envDefault:"default"`
}

// Sanitize trims values and enforces sane refresh timing.
func (a *AuthConfig) Sanitize() {
	a.URL = strings.TrimRight(strings.TrimSpace(a.URL), "/")
	a.IssuerURL = strings.TrimSpace(a.IssuerURL)
	a.JWKSURL = strings.TrimSpace(a.JWKSURL)
	if a.RefreshMargin <= 0 {
		a.RefreshMargin = 60 * time.Second
	}
	if strings.TrimSpace(a.SessionKey) == "" {
		a.SessionKey = "default"
	}
}

// Verifier reports which token verifier the configuration selects.
// Key-set verification needs an issuer and wins over the shared secret when both are present.
func (a *AuthConfig) Verifier() VerifierMode {
	switch {
	case a.IssuerURL != "":
		return VerifierJWKS
	case a.JWTSecret != "":
		return VerifierHS256
	default:
		return VerifierNone
	}
}

// ClientEnabled reports whether the hosted auth client can be constructed.
func (a *AuthConfig) ClientEnabled() bool {
	return a.URL != "" && a.AnonKey != ""
}
