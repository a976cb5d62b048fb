package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/portal-api/config"
	"github.com/target/portal-api/internal/adapters/navigate"
	"github.com/target/portal-api/internal/testutil"
)

func identityTestConfig() *config.AppConfig {
	cfg := &config.AppConfig{
		Auth: config.AuthConfig{URL: "http://127.0.0.1:1/auth/v1", AnonKey: "anon"},
		HTTP: config.HTTPConfig{BaseURL: "https://portal.example.com"},
		Identity: config.IdentityConfig{
			RescueAdminEmails: []string{"root@example.com"},
			LoginPath:         "/signin",
		},
		Redis: config.RedisConfig{SessionPrefix: "test:session:"},
	}
	cfg.Sanitize()
	return cfg
}

func TestBuildIdentity_RequiresAuthClient(t *testing.T) {
	_, err := BuildIdentity(IdentityDeps{})
	assert.Error(t, err)

	_, err = BuildIdentity(IdentityDeps{Config: &config.AppConfig{}})
	assert.ErrorContains(t, err, "AUTH_URL")
}

func TestBuildIdentity_WiresRuntime(t *testing.T) {
	_, client := testutil.SetupMiniRedis(t)
	rt, err := BuildIdentity(IdentityDeps{
		Config:      identityTestConfig(),
		RedisClient: client,
		Navigator:   &navigate.Recorder{},
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	require.NotNil(t, rt.Auth)
	require.NotNil(t, rt.API)
	require.NotNil(t, rt.Manager)

	assert.True(t, rt.Manager.Snapshot().Loading)
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
}

func TestBuildIdentity_StartWithoutStoredSession(t *testing.T) {
	_, client := testutil.SetupMiniRedis(t)
	nav := &navigate.Recorder{}
	rt, err := BuildIdentity(IdentityDeps{
		Config:      identityTestConfig(),
		RedisClient: client,
		Navigator:   nav,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.NoError(t, rt.Manager.Start(context.Background()))
	select {
	case <-rt.Manager.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("identity manager never became ready")
	}
	snap := rt.Manager.Snapshot()
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.User)
}

func TestIdentityManagerConfig(t *testing.T) {
	cfg := identityTestConfig()
	got := identityManagerConfig(cfg)

	assert.Equal(t, 15*time.Second, got.ProfileFetchTimeout)
	assert.Equal(t, 20*time.Second, got.BootstrapTimeout)
	assert.Equal(t, "https://portal.example.com", got.BaseURL)
	assert.Equal(t, "/signin", got.Paths.Login)
	assert.True(t, got.Rescue.Matches("ROOT@example.com"))
	assert.False(t, got.Rescue.Matches("other@example.com"))
}
