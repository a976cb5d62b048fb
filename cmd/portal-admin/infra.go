package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/portal-api/internal/adapters/navigate"
	"github.com/target/portal-api/internal/bootstrap"
)

const readyTimeout = 30 * time.Second

// identitySession is a started identity runtime plus the infrastructure it owns.
type identitySession struct {
	*bootstrap.IdentityRuntime
	redis redis.UniversalClient
	ctx   context.Context
	stop  context.CancelFunc
}

// openIdentity connects to Redis for session persistence when available, builds the
// identity runtime and waits until the stored session has been restored.
func openIdentity(cmdCtx *commandContext) (*identitySession, error) {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)

	redisClient, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		cmdCtx.Logger.Warn("redis unavailable; session will not persist", "error", err)
	}

	rt, err := bootstrap.BuildIdentity(bootstrap.IdentityDeps{
		Config:      &cmdCtx.Config,
		RedisClient: redisClient,
		Navigator:   navigate.NewWriter(cmdCtx.Out, cmdCtx.Config.HTTP.BaseURL),
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		closeRedis(cmdCtx, redisClient)
		stop()
		return nil, err
	}
	s := &identitySession{IdentityRuntime: rt, redis: redisClient, ctx: ctx, stop: stop}

	if err := rt.Manager.Start(ctx); err != nil {
		s.close(cmdCtx)
		return nil, err
	}
	select {
	case <-rt.Manager.Ready():
	case <-time.After(readyTimeout):
		cmdCtx.Logger.Warn("identity not ready before timeout")
	case <-ctx.Done():
		s.close(cmdCtx)
		return nil, ctx.Err()
	}
	return s, nil
}

func (s *identitySession) close(cmdCtx *commandContext) {
	if err := s.IdentityRuntime.Close(); err != nil {
		cmdCtx.Logger.Warn("identity close failed", "error", err)
	}
	closeRedis(cmdCtx, s.redis)
	s.stop()
}

func closeRedis(cmdCtx *commandContext, client redis.UniversalClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		cmdCtx.Logger.Warn("redis close failed", "error", err)
	}
}
