package service

import (
	"context"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
)

// fetchProfile loads the profile for userID, bounded by the profile fetch timeout.
// Concurrent fetches for the same user share one request. Every failure mode
// (error, timeout, missing row, mismatched id) yields nil and is logged, never returned.
func (m *IdentityManager) fetchProfile(ctx context.Context, userID string) *domainauth.Profile {
	if userID == "" {
		return nil
	}

	ch := m.fetches.DoChan(userID, func() (any, error) {
		// Shared by callers with different contexts; bounded by the manager lifetime and timeout.
		fctx, cancel := context.WithTimeout(m.ctx, m.cfg.ProfileFetchTimeout)
		defer cancel()
		return m.profiles.GetProfile(fctx, userID)
	})

	timer := time.NewTimer(m.cfg.ProfileFetchTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			m.logger.WarnContext(ctx, "profile fetch failed", "user_id", userID, "error", res.Err)
			return nil
		}
		p, _ := res.Val.(*domainauth.Profile)
		if p == nil {
			m.logger.InfoContext(ctx, "no profile found", "user_id", userID)
			return nil
		}
		if p.ID != userID {
			m.logger.WarnContext(ctx, "profile id mismatch", "user_id", userID, "profile_id", p.ID)
			return nil
		}
		cp := *p
		return &cp
	case <-timer.C:
		m.fetches.Forget(userID)
		m.logger.WarnContext(ctx, "profile fetch timed out", "user_id", userID,
			"timeout", m.cfg.ProfileFetchTimeout)
		return nil
	case <-ctx.Done():
		m.logger.DebugContext(ctx, "profile fetch abandoned", "user_id", userID, "error", ctx.Err())
		return nil
	}
}

// RefreshProfile re-fetches the profile for the current user. A failed fetch leaves
// the existing profile untouched; with no user it does nothing.
func (m *IdentityManager) RefreshProfile(ctx context.Context) {
	epoch, userID := m.identity()
	if userID == "" {
		return
	}
	p := m.fetchProfile(ctx, userID)
	m.applyProfile(epoch, userID, p, true)
}
