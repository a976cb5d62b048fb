package gotrue

import (
	"context"
	"net/http"
	"net/url"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	"golang.org/x/oauth2"
)

// refreshSource is the oauth2.TokenSource behind the cached token: it runs the refresh grant.
type refreshSource struct {
	c *Client
}

func (s refreshSource) Token() (*oauth2.Token, error) {
	sess, err := s.c.refresh(s.c.ctx)
	if err != nil {
		return nil, err
	}
	return toOAuth2(sess), nil
}

// refresh exchanges the refresh token for a new session. Concurrent callers share one
// request. A rejected refresh token ends the session with SIGNED_OUT.
func (c *Client) refresh(ctx context.Context) (*domainauth.Session, error) {
	v, err, _ := c.refreshes.Do("refresh", func() (any, error) {
		c.mu.Lock()
		cur := cloneSession(c.session)
		c.mu.Unlock()
		if cur == nil || cur.RefreshToken == "" {
			return nil, domainauth.NewAuthError(domainauth.KindNotAuthenticated, "no session to refresh")
		}
		if !c.expiring(cur) {
			// Another caller refreshed it already.
			return cur, nil
		}

		var resp tokenResponse
		err := c.do(ctx, request{
			op:     opRefresh,
			method: http.MethodPost,
			path:   "/token",
			query:  url.Values{"grant_type": {"refresh_token"}},
			body:   map[string]string{"refresh_token": cur.RefreshToken},
		}, &resp)
		if err != nil {
			if domainauth.IsKind(err, domainauth.KindSessionExpired) {
				c.logger.InfoContext(ctx, "refresh token rejected, ending session", "user_id", cur.User.ID)
				c.setSession(ctx, nil, domainauth.EventSignedOut)
			}
			return nil, err
		}
		sess, err := c.sessionFrom(resp, &cur.User)
		if err != nil {
			return nil, err
		}
		if sess.RefreshToken == "" {
			sess.RefreshToken = cur.RefreshToken
		}
		c.setSession(ctx, &sess, domainauth.EventTokenRefreshed)
		return &sess, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneSession(v.(*domainauth.Session)), nil
}

func (c *Client) poke() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// nextRefresh returns how long to wait before refreshing the current session.
func (c *Client) nextRefresh() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.RefreshToken == "" || c.session.ExpiresAt.IsZero() {
		return 0, false
	}
	wait := c.session.ExpiresAt.Add(-c.margin).Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// run refreshes the session ahead of expiry until ctx is canceled.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var backoff bool
	for {
		var fire <-chan time.Time
		if wait, ok := c.nextRefresh(); ok {
			if backoff && wait < c.retry {
				wait = c.retry
			}
			timer.Reset(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-c.kick:
			timer.Stop()
			backoff = false
		case <-fire:
			_, err := c.refresh(ctx)
			backoff = err != nil
			if err != nil && !sessionGone(err) && ctx.Err() == nil {
				c.logger.WarnContext(ctx, "background session refresh failed", "error", err)
			}
		}
	}
}

// sessionGone reports whether a refresh failed because there is no longer a session to refresh.
func sessionGone(err error) bool {
	return domainauth.IsKind(err, domainauth.KindSessionExpired) ||
		domainauth.IsKind(err, domainauth.KindNotAuthenticated)
}
