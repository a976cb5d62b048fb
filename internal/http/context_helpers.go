package httpx

import (
	"context"

	"github.com/target/portal-api/internal/ports"
)

// claimsKey is an unexported context key type to avoid collisions across packages.
type claimsKey struct{}

// SetClaimsInContext returns a child context that carries the caller's verified claims.
func SetClaimsInContext(ctx context.Context, claims ports.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the verified claims and whether the request was authenticated.
func ClaimsFromContext(ctx context.Context) (ports.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(ports.Claims)
	return claims, ok && claims.UserID != ""
}
