package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/portal-api/config"
	"github.com/target/portal-api/internal/core"
	"github.com/target/portal-api/internal/data"
	httpx "github.com/target/portal-api/internal/http"
	"github.com/target/portal-api/internal/ports"
	"github.com/target/portal-api/internal/service"
)

const shutdownWaitTimeout = 10 * time.Second

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Profiles *service.ProfileService
	Verifier ports.TokenVerifier
	Health   map[string]httpx.HealthCheck
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	ProfileRepo *data.ProfileRepo
	CacheRepo   *data.RedisCacheRepo
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient) *serviceRepositories {
	repos := &serviceRepositories{}
	if db != nil {
		repos.ProfileRepo = data.NewProfileRepo(db)
	}
	if redisClient != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(redisClient)
	}
	return repos
}

// NewServices builds the portal API services.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repos := buildRepositories(deps.DB, deps.RedisClient)

	verifier, err := BuildTokenVerifier(ctx, VerifierConfig{Auth: deps.Config.Auth, Logger: logger})
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Profiles: newProfileService(repos, deps.Config, logger),
		Verifier: verifier,
		Health:   healthChecks(deps.DB, repos.CacheRepo),
	}, nil
}

func newProfileService(repos *serviceRepositories, cfg *config.AppConfig, logger *slog.Logger) *service.ProfileService {
	var throttle *core.PresenceThrottle
	if repos.CacheRepo != nil {
		throttle = core.NewPresenceThrottle(repos.CacheRepo, core.PresenceThrottleConfig{
			Window: cfg.Presence.ThrottleWindow,
		})
	}
	return service.NewProfileService(service.ProfileServiceOptions{
		Repo:     repos.ProfileRepo,
		Throttle: throttle,
		Config: service.ProfileServiceConfig{
			Rescue: service.NewRescuePolicy(cfg.Identity.RescueAdminEmails),
			Logger: logger,
		},
	})
}

func healthChecks(db *sql.DB, cache core.CacheRepository) map[string]httpx.HealthCheck {
	checks := make(map[string]httpx.HealthCheck, 2)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if cache != nil {
		checks["redis"] = cache.Health
	}
	return checks
}

// ServiceOrchestrationConfig contains configuration for running the portal API.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the HTTP server and blocks until a shutdown signal,
// context cancellation or server failure, then stops gracefully.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	errCh := make(chan error, 1)
	server := StartHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: cfg.Services,
		Logger:   logger,
		ErrCh:    errCh,
	})

	return waitForShutdown(shutdownConfig{
		ctx:        ctx,
		errCh:      errCh,
		httpServer: server,
		timeout:    cfg.Config.HTTP.ShutdownTimeout,
		logger:     logger,
	})
}

type shutdownConfig struct {
	ctx        context.Context
	errCh      <-chan error
	httpServer *http.Server
	timeout    time.Duration
	logger     *slog.Logger
}

func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		return gracefulStop(cfg)
	case <-cfg.ctx.Done():
		cfg.logger.Info("context cancelled, shutting down services...")
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops the HTTP server, waiting at most the configured timeout.
func gracefulStop(cfg shutdownConfig) error {
	timeout := cfg.timeout
	if timeout <= 0 {
		timeout = shutdownWaitTimeout
	}
	// The parent context may already be cancelled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cfg.ctx), timeout)
	defer cancel()

	if err := ShutdownHTTPServer(ShutdownConfig{
		Context: shutdownCtx,
		Server:  cfg.httpServer,
		Logger:  cfg.logger,
	}); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
