package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/portal-api/config"
	"github.com/target/portal-api/internal/data"
	"github.com/target/portal-api/internal/testutil"
)

func TestBuildRepositories_OptionalBackends(t *testing.T) {
	repos := buildRepositories(nil, nil)
	assert.Nil(t, repos.ProfileRepo)
	assert.Nil(t, repos.CacheRepo)

	_, client := testutil.SetupMiniRedis(t)
	repos = buildRepositories(nil, client)
	assert.NotNil(t, repos.CacheRepo)
}

func TestHealthChecks(t *testing.T) {
	assert.Empty(t, healthChecks(nil, nil))

	_, client := testutil.SetupMiniRedis(t)
	checks := healthChecks(nil, data.NewRedisCacheRepo(client))
	require.Contains(t, checks, "redis")
	assert.NotContains(t, checks, "postgres")
	assert.NoError(t, checks["redis"](context.Background()))
}

func TestNewServices_Validation(t *testing.T) {
	_, err := NewServices(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewServices(context.Background(), &ServiceDeps{Config: &config.AppConfig{}})
	assert.ErrorContains(t, err, "database is required")
}

func TestValidateServerConfig(t *testing.T) {
	assert.Error(t, ValidateServerConfig(nil))
	assert.Error(t, ValidateServerConfig(&config.AppConfig{}))
	assert.NoError(t, ValidateServerConfig(&config.AppConfig{Auth: config.AuthConfig{JWTSecret: "s"}}))
}
