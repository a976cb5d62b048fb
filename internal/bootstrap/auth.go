package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/portal-api/config"
	"github.com/target/portal-api/internal/adapters/jwtverify"
	"github.com/target/portal-api/internal/adapters/oidc"
	"github.com/target/portal-api/internal/ports"
)

// VerifierConfig contains configuration for access-token verification.
type VerifierConfig struct {
	Auth   config.AuthConfig
	Logger *slog.Logger
}

// BuildTokenVerifier creates the verifier selected by the auth configuration.
// Returns nil without error when no verifier is configured; authenticated routes are then disabled.
//
//nolint:ireturn // the concrete verifier depends on configuration.
func BuildTokenVerifier(ctx context.Context, cfg VerifierConfig) (ports.TokenVerifier, error) {
	switch cfg.Auth.Verifier() {
	case config.VerifierJWKS:
		v, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
			IssuerURL: cfg.Auth.IssuerURL,
			JWKSURL:   cfg.Auth.JWKSURL,
			Audience:  cfg.Auth.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("build jwks verifier: %w", err)
		}
		logInfo(cfg.Logger, "token verifier configured", "mode", config.VerifierJWKS, "issuer", cfg.Auth.IssuerURL)
		return v, nil

	case config.VerifierHS256:
		v, err := jwtverify.New(jwtverify.Config{
			Secret:   []byte(cfg.Auth.JWTSecret),
			Audience: cfg.Auth.Audience,
		})
		if err != nil {
			return nil, fmt.Errorf("build hs256 verifier: %w", err)
		}
		logInfo(cfg.Logger, "token verifier configured", "mode", config.VerifierHS256)
		return v, nil

	default:
		if cfg.Logger != nil {
			cfg.Logger.Warn("no token verifier configured; authenticated routes disabled")
		}
		return nil, nil
	}
}

func logInfo(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Info(msg, args...)
	}
}
