package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/ports"
	"github.com/target/portal-api/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Profiles *service.ProfileService
	Verifier ports.TokenVerifier
	Health   map[string]HealthCheck
	Logger   *slog.Logger // optional
}

// NewRouter creates the portal API router. Callers add recovery and access logging.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	health := &HealthHandlers{Checks: services.Health, Logger: logger}
	mux.HandleFunc("GET /healthz", health.Health)
	mux.HandleFunc("HEAD /healthz", health.Health)

	if services.Profiles != nil && services.Verifier != nil {
		registerAuthRoutes(mux, &AuthHandlers{Svc: services.Profiles, Logger: logger}, services.Verifier)
		registerProfileRoutes(mux, &ProfileHandlers{Svc: services.Profiles}, services)
	}

	return mux
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers, verifier ports.TokenVerifier) {
	authed := RequireAuth(verifier)
	mux.Handle("POST /api/auth/heartbeat", authed(http.HandlerFunc(h.Heartbeat)))
	mux.Handle("POST /api/auth/presence", authed(http.HandlerFunc(h.Presence)))
	mux.Handle("POST /api/auth/fix-profile", authed(http.HandlerFunc(h.FixProfile)))
}

func registerProfileRoutes(mux *http.ServeMux, h *ProfileHandlers, services RouterServices) {
	authed := RequireAuth(services.Verifier)
	adminOnly := func(hh http.Handler) http.Handler {
		return authed(RequireRole(services.Profiles, domainauth.RoleAdmin)(hh))
	}

	mux.Handle("GET /api/profiles/{id}", authed(http.HandlerFunc(h.GetByID)))
	mux.Handle("POST /api/profiles", authed(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/admin/clients", adminOnly(http.HandlerFunc(h.ListClients)))
}
