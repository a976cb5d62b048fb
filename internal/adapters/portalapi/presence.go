package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// PresenceRequest is the body of a presence report.
type PresenceRequest struct {
	Online bool `json:"is_online"`
}

// Heartbeat marks the current user online.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.endpoint(PathHeartbeat, nil), nil, nil)
}

// SetPresence reports the current user online or offline.
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPost, c.endpoint(PathPresence, nil), PresenceRequest{Online: online}, nil)
}

// SendBeacon queues a presence report that authenticates with the access-token cookie
// and returns immediately. It returns false when no credentials have been cached yet.
// Close waits for queued beacons.
func (c *Client) SendBeacon(online bool) bool {
	u := c.endpoint(PathPresence, nil)
	if !hasCookie(c.jar.Cookies(u), AccessTokenCookie) {
		return false
	}
	body, err := json.Marshal(PresenceRequest{Online: online})
	if err != nil {
		return false
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.beaconTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			c.logger.Debug("build presence beacon", "error", err)
			return
		}
		// Beacons are sent as plain text, like a browser's sendBeacon with a string payload.
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
		resp, err := c.beacon.Do(req)
		if err != nil {
			c.logger.Debug("presence beacon failed", "online", online, "error", err)
			return
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			c.logger.Debug("presence beacon rejected", "online", online, "status", resp.StatusCode)
		}
	}()
	return true
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, ck := range cookies {
		if ck.Name == name && ck.Value != "" {
			return true
		}
	}
	return false
}

// tokenError marks a failure to obtain an access token, as opposed to a transport failure.
type tokenError struct {
	err error
}

func (e *tokenError) Error() string { return "access token: " + e.err.Error() }
func (e *tokenError) Unwrap() error { return e.err }

// cookieSource mirrors each access token into the cookie jar so beacons can
// authenticate without an Authorization header. A failed token lookup clears the cookie.
type cookieSource struct {
	src oauth2.TokenSource
	jar http.CookieJar
	u   *url.URL
}

func (s cookieSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		s.jar.SetCookies(s.u, []*http.Cookie{{Name: AccessTokenCookie, Path: "/", MaxAge: -1}})
		return nil, &tokenError{err: err}
	}
	ck := &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    tok.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.u.Scheme == "https",
		SameSite: http.SameSiteLaxMode,
	}
	if !tok.Expiry.IsZero() {
		ck.Expires = tok.Expiry
	}
	s.jar.SetCookies(s.u, []*http.Cookie{ck})
	return tok, nil
}
