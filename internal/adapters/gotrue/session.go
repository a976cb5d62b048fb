package gotrue

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/ports"
	"golang.org/x/oauth2"
)

type tokenResponse struct {
	AccessToken  string           `json:"access_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int64            `json:"expires_in"`
	ExpiresAt    int64            `json:"expires_at"`
	RefreshToken string           `json:"refresh_token"`
	User         *domainauth.User `json:"user"`
}

// signUpResponse is a session when the server auto-confirms, otherwise the bare user.
type signUpResponse struct {
	tokenResponse
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type accessTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// sessionFrom builds a session from a token response. The access token's own claims
// fill in expiry and identity when the response omits them; the token is not verified here.
func (c *Client) sessionFrom(r tokenResponse, fallback *domainauth.User) (domainauth.Session, error) {
	if r.AccessToken == "" {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.KindUnknown, "auth response carried no access token")
	}
	sess := domainauth.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    firstNonEmpty(r.TokenType, "bearer"),
	}
	switch {
	case r.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	case r.ExpiresIn > 0:
		sess.ExpiresAt = c.now().Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
	}

	var claims accessTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(r.AccessToken, &claims); err != nil {
		c.logger.Debug("access token is not a readable JWT", "error", err)
	}
	if sess.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.UTC()
	}

	switch {
	case r.User != nil:
		sess.User = *r.User
	case fallback != nil:
		sess.User = *fallback
	}
	if sess.User.ID == "" {
		sess.User.ID = claims.Subject
	}
	if sess.User.Email == "" {
		sess.User.Email = claims.Email
	}
	if sess.User.ID == "" {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.KindUnknown, "auth response carried no user")
	}
	return sess, nil
}

func toOAuth2(s *domainauth.Session) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

func cloneSession(s *domainauth.Session) *domainauth.Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// setSession replaces the current session, persists it and broadcasts event.
// A nil session clears local state.
func (c *Client) setSession(ctx context.Context, sess *domainauth.Session, event domainauth.AuthEvent) {
	c.mu.Lock()
	c.session = cloneSession(sess)
	c.loaded = true
	c.tokens = nil
	if sess != nil {
		c.tokens = oauth2.ReuseTokenSourceWithExpiry(toOAuth2(sess), refreshSource{c: c}, c.margin)
	}
	c.mu.Unlock()

	if err := c.persist(ctx, sess); err != nil {
		c.logger.WarnContext(ctx, "persist session", "event", event, "error", err)
	}
	c.poke()
	c.publish(event, cloneSession(sess))
}

func (c *Client) persist(ctx context.Context, sess *domainauth.Session) error {
	if c.store == nil {
		return nil
	}
	if sess == nil {
		return c.store.Delete(ctx, c.storageKey)
	}
	return c.store.Save(ctx, c.storageKey, *sess)
}

// current returns the in-memory session, loading it from persistence on first use.
func (c *Client) current(ctx context.Context) (*domainauth.Session, error) {
	c.mu.Lock()
	if c.loaded || c.store == nil {
		c.loaded = true
		s := cloneSession(c.session)
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	stored, err := c.store.Get(ctx, c.storageKey)
	if err != nil && !errors.Is(err, ports.ErrSessionNotFound) {
		return nil, domainauth.WrapAuthError(err, domainauth.KindUnavailable, "load stored session")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.loaded = true
		if err == nil {
			c.session = &stored
			c.tokens = oauth2.ReuseTokenSourceWithExpiry(toOAuth2(&stored), refreshSource{c: c}, c.margin)
			c.poke()
		}
	}
	return cloneSession(c.session), nil
}

func (c *Client) expiring(s *domainauth.Session) bool {
	return !s.ExpiresAt.IsZero() && !c.now().Add(c.margin).Before(s.ExpiresAt)
}

// GetSession returns the current session, refreshing it first when the access token is
// about to expire. A session whose refresh is rejected is cleared and reported as absent.
func (c *Client) GetSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := c.current(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	if !c.expiring(sess) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		c.setSession(ctx, nil, domainauth.EventSignedOut)
		return nil, nil
	}
	refreshed, err := c.refresh(ctx)
	if err != nil {
		if sessionGone(err) {
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (ports.SignInResult, error) {
	var resp tokenResponse
	err := c.do(ctx, request{
		op:     opPassword,
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		return ports.SignInResult{}, err
	}
	sess, err := c.sessionFrom(resp, nil)
	if err != nil {
		return ports.SignInResult{}, err
	}
	c.setSession(ctx, &sess, domainauth.EventSignedIn)
	return ports.SignInResult{Session: sess, User: sess.User}, nil
}

// SignUp registers a new identity. When the server confirms immediately the returned
// session becomes current and SIGNED_IN is broadcast.
func (c *Client) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.User, error) {
	body := map[string]any{"email": in.Email, "password": in.Password}
	if len(in.Metadata) > 0 {
		body["data"] = in.Metadata
	}
	var resp signUpResponse
	if err := c.do(ctx, request{op: opSignUp, method: http.MethodPost, path: "/signup", body: body}, &resp); err != nil {
		return domainauth.User{}, err
	}
	if resp.AccessToken != "" {
		sess, err := c.sessionFrom(resp.tokenResponse, nil)
		if err != nil {
			return domainauth.User{}, err
		}
		c.setSession(ctx, &sess, domainauth.EventSignedIn)
		return sess.User, nil
	}
	if resp.User != nil {
		return *resp.User, nil
	}
	if resp.ID == "" {
		return domainauth.User{}, domainauth.NewAuthError(domainauth.KindUnknown, "sign-up response carried no user")
	}
	return domainauth.User{ID: resp.ID, Email: resp.Email, Metadata: resp.UserMetadata}, nil
}

// SignOut revokes the session on the server and always clears it locally.
// A server that no longer knows the session is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.current(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "load session for sign out", "error", err)
	}
	var remoteErr error
	if sess != nil && sess.AccessToken != "" {
		remoteErr = c.do(ctx, request{op: opLogout, method: http.MethodPost, path: "/logout", bearer: sess.AccessToken}, nil)
		if domainauth.IsKind(remoteErr, domainauth.KindSessionExpired) ||
			domainauth.IsKind(remoteErr, domainauth.KindNotAuthenticated) {
			remoteErr = nil
		}
	}
	c.setSession(ctx, nil, domainauth.EventSignedOut)
	return remoteErr
}

// ResetPasswordForEmail asks the server to send a recovery link that lands on redirectURL.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error {
	q := url.Values{}
	if redirectURL != "" {
		q.Set("redirect_to", redirectURL)
	}
	return c.do(ctx, request{
		op:     opRecover,
		method: http.MethodPost,
		path:   "/recover",
		query:  q,
		body:   map[string]string{"email": strings.TrimSpace(email)},
	}, nil)
}

// UpdatePassword changes the signed-in user's password.
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	var user domainauth.User
	if err := c.do(ctx, request{
		op:     opUser,
		method: http.MethodPut,
		path:   "/user",
		body:   map[string]string{"password": newPassword},
		bearer: token,
	}, &user); err != nil {
		return err
	}
	if user.ID != "" {
		c.mu.Lock()
		if c.session != nil && c.session.User.ID == user.ID {
			c.session.User = user
		}
		c.mu.Unlock()
	}
	return nil
}

// CommitSession flushes the current session to persistence.
func (c *Client) CommitSession(ctx context.Context) error {
	c.mu.Lock()
	sess := cloneSession(c.session)
	c.mu.Unlock()
	return c.persist(ctx, sess)
}

// accessToken returns a valid access token, refreshing it through the token source if needed.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if _, err := c.current(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	ts := c.tokens
	c.mu.Unlock()
	if ts == nil {
		return nil, domainauth.NewAuthError(domainauth.KindNotAuthenticated, "not signed in")
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, domainauth.WrapAuthError(err, domainauth.KindSessionExpired, "refresh session")
	}
	return tok, nil
}

// TokenSource exposes the current session's access token to authorized HTTP clients.
// The source follows the client across sign-ins, refreshes and sign-outs.
func (c *Client) TokenSource() oauth2.TokenSource {
	return sessionTokenSource{c: c}
}

type sessionTokenSource struct {
	c *Client
}

func (s sessionTokenSource) Token() (*oauth2.Token, error) {
	return s.c.token(s.c.ctx)
}
