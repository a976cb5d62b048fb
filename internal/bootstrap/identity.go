package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/portal-api/config"
	"github.com/target/portal-api/internal/adapters/gotrue"
	"github.com/target/portal-api/internal/adapters/portalapi"
	redisadapter "github.com/target/portal-api/internal/adapters/redis"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/ports"
	"github.com/target/portal-api/internal/service"
)

// IdentityDeps groups dependencies for the client-side identity runtime.
type IdentityDeps struct {
	Config *config.AppConfig
	// RedisClient persists the auth session across runs. Optional; without it the
	// session lives only in memory.
	RedisClient redis.UniversalClient
	Navigator   ports.Navigator
	Logger      *slog.Logger
}

// IdentityRuntime is the wired identity stack: auth client, portal API client and manager.
type IdentityRuntime struct {
	Auth    *gotrue.Client
	API     *portalapi.Client
	Manager *service.IdentityManager
}

// BuildIdentity wires the hosted auth client and the portal API client into an IdentityManager.
// The manager is not started.
func BuildIdentity(deps IdentityDeps) (*IdentityRuntime, error) {
	if deps.Config == nil {
		return nil, errors.New("identity config is required")
	}
	cfg := deps.Config
	if !cfg.Auth.ClientEnabled() {
		return nil, errors.New("auth client not configured: set AUTH_URL and AUTH_ANON_KEY")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var persistence ports.SessionPersistence
	if deps.RedisClient != nil {
		persistence = redisadapter.NewSessionStoreWithOptions(deps.RedisClient, redisadapter.SessionStoreOptions{
			Prefix: cfg.Redis.SessionPrefix,
		})
	}

	authClient, err := gotrue.New(gotrue.Config{
		BaseURL:       cfg.Auth.URL,
		APIKey:        cfg.Auth.AnonKey,
		Persistence:   persistence,
		StorageKey:    cfg.Auth.SessionKey,
		RefreshMargin: cfg.Auth.RefreshMargin,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create auth client: %w", err)
	}

	apiClient, err := portalapi.New(portalapi.Config{
		BaseURL:       cfg.PortalAPI.BaseURL,
		TokenSource:   authClient.TokenSource(),
		Timeout:       cfg.PortalAPI.Timeout,
		BeaconTimeout: cfg.PortalAPI.BeaconTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create portal api client: %w", err), authClient.Close())
	}

	manager := service.NewIdentityManager(service.IdentityManagerOptions{
		Ports: service.IdentityPorts{
			Sessions:  authClient,
			Profiles:  apiClient,
			Repairer:  apiClient,
			Presence:  apiClient,
			Navigator: deps.Navigator,
		},
		Config: identityManagerConfig(cfg),
		Logger: logger,
	})

	return &IdentityRuntime{Auth: authClient, API: apiClient, Manager: manager}, nil
}

func identityManagerConfig(cfg *config.AppConfig) service.IdentityManagerConfig {
	return service.IdentityManagerConfig{
		ProfileFetchTimeout: cfg.Identity.ProfileFetchTimeout,
		BootstrapTimeout:    cfg.Identity.BootstrapTimeout,
		HeartbeatInterval:   cfg.Identity.HeartbeatInterval,
		BeaconTimeout:       cfg.PortalAPI.BeaconTimeout,
		ProfileInsertTries:  cfg.Identity.ProfileInsertTries,
		ProfileInsertDelay:  cfg.Identity.ProfileInsertDelay,
		BaseURL:             cfg.HTTP.BaseURL,
		Paths: domainauth.Paths{
			Login:           cfg.Identity.LoginPath,
			AdminDashboard:  cfg.Identity.AdminDashboardPath,
			ClientDashboard: cfg.Identity.ClientDashboardPath,
			ResetPassword:   cfg.Identity.ResetPasswordPath,
		},
		Rescue: service.NewRescuePolicy(cfg.Identity.RescueAdminEmails),
	}
}

// Close shuts down the manager first so its final presence beacon can still be sent.
func (r *IdentityRuntime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Manager != nil {
		errs = append(errs, r.Manager.Close())
	}
	if r.API != nil {
		errs = append(errs, r.API.Close())
	}
	if r.Auth != nil {
		errs = append(errs, r.Auth.Close())
	}
	return errors.Join(errs...)
}
