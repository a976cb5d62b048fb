package gotrue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	mockauth "github.com/target/portal-api/internal/mocks/auth"
	"github.com/target/portal-api/internal/ports"
)

const (
	testAPIKey = "anon-key"
	testUserID = "11111111-1111-4111-8111-111111111111"
	testEmail  = "alice@example.com"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	APIKey string
	Body   map[string]any
}

// fakeAuthServer is a scripted GoTrue server. Each handler returns status and body.
type fakeAuthServer struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(r recordedRequest) (int, any)
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{t: t, routes: map[string]func(recordedRequest) (int, any){}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthServer) serve(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		APIKey: r.Header.Get("apikey"),
	}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	route := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if route == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	status, body := route(rec)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (f *fakeAuthServer) handle(route string, fn func(r recordedRequest) (int, any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = fn
}

func (f *fakeAuthServer) calls(route string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.requests {
		if r.Method+" "+r.Path == route {
			out = append(out, r)
		}
	}
	return out
}

func accessToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": testEmail,
		"exp":   exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func sessionBody(t *testing.T, refresh string, expiresIn time.Duration) map[string]any {
	return map[string]any{
		"access_token":  accessToken(t, testUserID, time.Now().Add(expiresIn)),
		"token_type":    "bearer",
		"expires_in":    int(expiresIn.Seconds()),
		"expires_at":    time.Now().Add(expiresIn).Unix(),
		"refresh_token": refresh,
		"user": map[string]any{
			"id":            testUserID,
			"email":         testEmail,
			"user_metadata": map[string]any{"full_name": "Alice"},
		},
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []domainauth.AuthEvent
}

func (l *eventLog) record(e domainauth.AuthEvent, _ *domainauth.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []domainauth.AuthEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domainauth.AuthEvent(nil), l.events...)
}

func newTestClient(t *testing.T, f *fakeAuthServer, mutate ...func(*Config)) (*Client, *mockauth.MemorySessionPersistence) {
	t.Helper()
	store := mockauth.NewMemorySessionPersistence()
	cfg := Config{
		BaseURL:       f.srv.URL + "/auth/v1",
		APIKey:        testAPIKey,
		Persistence:   store,
		RefreshMargin: time.Second,
		RetryInterval: 20 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, store
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestClient_SignInWithPassword(t *testing.T) {
	f := newFakeAuthServer(t)
	f.handle("POST /auth/v1/token", func(r recordedRequest) (int, any) {
		return http.StatusOK, sessionBody(t, "refresh-1", time.Hour)
	})
	c, store := newTestClient(t, f)
	events := &eventLog{}
	c.OnAuthStateChange(events.record)

	res, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
	require.NoError(t, err)
	assert.Equal(t, testUserID, res.User.ID)
	assert.Equal(t, "Alice", res.User.FullName())
	assert.Equal(t, "refresh-1", res.Session.RefreshToken)

	calls := f.calls("POST /auth/v1/token")
	require.Len(t, calls, 1)
	assert.Equal(t, "grant_type=password", calls[0].Query)
	assert.Equal(t, testAPIKey, calls[0].APIKey)
	assert.Equal(t, "Bearer "+testAPIKey, calls[0].Auth)
	assert.Equal(t, testEmail, calls[0].Body["email"])

	require.Eventually(t, func() bool { return len(events.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domainauth.EventSignedIn, events.snapshot()[0])

	stored, err := store.Get(context.Background(), defaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, res.Session.AccessToken, stored.AccessToken)

	sess, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, testUserID, sess.User.ID)
}

func TestClient_SignInFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   domainauth.ErrorKind
	}{
		{"legacy invalid grant", http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"}, domainauth.KindInvalidCredentials},
		{"coded invalid credentials", http.StatusBadRequest, map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"}, domainauth.KindInvalidCredentials},
		{"rate limited", http.StatusTooManyRequests, map[string]string{"error_code": "over_request_rate_limit", "msg": "slow down"}, domainauth.KindRateLimited},
		{"server error", http.StatusBadGateway, nil, domainauth.KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeAuthServer(t)
			f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return tt.status, tt.body })
			c, _ := newTestClient(t, f)

			_, err := c.SignInWithPassword(context.Background(), testEmail, "wrong")
			require.Error(t, err)
			assert.Equal(t, tt.want, domainauth.KindOf(err))

			sess, err := c.GetSession(context.Background())
			require.NoError(t, err)
			assert.Nil(t, sess)
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	f := newFakeAuthServer(t)
	c, _ := newTestClient(t, f)
	f.srv.Close()

	_, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
	assert.True(t, domainauth.IsKind(err, domainauth.KindUnavailable))
}

func TestClient_SignUp(t *testing.T) {
	t.Run("confirmation pending returns the user", func(t *testing.T) {
		f := newFakeAuthServer(t)
		f.handle("POST /auth/v1/signup", func(r recordedRequest) (int, any) {
			return http.StatusOK, map[string]any{"id": testUserID, "email": r.Body["email"], "user_metadata": r.Body["data"]}
		})
		c, _ := newTestClient(t, f)

		user, err := c.SignUp(context.Background(), ports.SignUpInput{
			Email: testEmail, Password: "secret1", Metadata: map[string]any{"full_name": "Alice"},
		})
		require.NoError(t, err)
		assert.Equal(t, testUserID, user.ID)
		assert.Equal(t, "Alice", user.FullName())

		sess, err := c.GetSession(context.Background())
		require.NoError(t, err)
		assert.Nil(t, sess, "unconfirmed sign-up does not sign in")
	})

	t.Run("auto-confirmed sign-up signs in", func(t *testing.T) {
		f := newFakeAuthServer(t)
		f.handle("POST /auth/v1/signup", func(recordedRequest) (int, any) {
			return http.StatusOK, sessionBody(t, "refresh-1", time.Hour)
		})
		c, _ := newTestClient(t, f)
		events := &eventLog{}
		c.OnAuthStateChange(events.record)

		user, err := c.SignUp(context.Background(), ports.SignUpInput{Email: testEmail, Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, testUserID, user.ID)
		require.Eventually(t, func() bool { return len(events.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("existing user", func(t *testing.T) {
		f := newFakeAuthServer(t)
		f.handle("POST /auth/v1/signup", func(recordedRequest) (int, any) {
			return http.StatusUnprocessableEntity, map[string]string{"error_code": "user_already_exists", "msg": "User already registered"}
		})
		c, _ := newTestClient(t, f)

		_, err := c.SignUp(context.Background(), ports.SignUpInput{Email: testEmail, Password: "secret1"})
		assert.True(t, domainauth.IsKind(err, domainauth.KindUserExists))
	})
}

func TestClient_GetSessionRefreshesStoredSession(t *testing.T) {
	f := newFakeAuthServer(t)
	f.handle("POST /auth/v1/token", func(r recordedRequest) (int, any) {
		if r.Body["refresh_token"] != "stale-refresh" {
			return http.StatusBadRequest, map[string]string{"error_code": "refresh_token_not_found"}
		}
		return http.StatusOK, sessionBody(t, "fresh-refresh", time.Hour)
	})
	store := mockauth.NewMemorySessionPersistence()
	require.NoError(t, store.Save(context.Background(), defaultStorageKey, domainauth.Session{
		AccessToken:  accessToken(t, testUserID, time.Now().Add(-time.Minute)),
		RefreshToken: "stale-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
		User:         domainauth.User{ID: testUserID, Email: testEmail},
	}))
	c, _ := newTestClient(t, f, func(cfg *Config) { cfg.Persistence = store })
	events := &eventLog{}
	c.OnAuthStateChange(events.record)

	sess, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "fresh-refresh", sess.RefreshToken)
	assert.Equal(t, "grant_type=refresh_token", f.calls("POST /auth/v1/token")[0].Query)

	require.Eventually(t, func() bool {
		evs := events.snapshot()
		return len(evs) >= 1 && evs[0] == domainauth.EventTokenRefreshed
	}, time.Second, 5*time.Millisecond)

	stored, err := store.Get(context.Background(), defaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh", stored.RefreshToken)
}

func TestClient_RejectedRefreshEndsSession(t *testing.T) {
	f := newFakeAuthServer(t)
	f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) {
		return http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid Refresh Token"}
	})
	store := mockauth.NewMemorySessionPersistence()
	require.NoError(t, store.Save(context.Background(), defaultStorageKey, domainauth.Session{
		AccessToken:  "expired",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute),
		User:         domainauth.User{ID: testUserID},
	}))
	c, _ := newTestClient(t, f, func(cfg *Config) { cfg.Persistence = store })
	events := &eventLog{}
	c.OnAuthStateChange(events.record)

	sess, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.Eventually(t, func() bool {
		evs := events.snapshot()
		return len(evs) == 1 && evs[0] == domainauth.EventSignedOut
	}, time.Second, 5*time.Millisecond)
	_, err = store.Get(context.Background(), defaultStorageKey)
	assert.ErrorIs(t, err, ports.ErrSessionNotFound)
}

func TestClient_BackgroundRefresh(t *testing.T) {
	f := newFakeAuthServer(t)
	var n int
	var mu sync.Mutex
	f.handle("POST /auth/v1/token", func(r recordedRequest) (int, any) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if r.Query == "grant_type=password" {
			// Expires just past the refresh margin, so the loop refreshes almost immediately.
			return http.StatusOK, sessionBody(t, "refresh-1", 1100*time.Millisecond)
		}
		return http.StatusOK, sessionBody(t, "refresh-2", time.Hour)
	})
	c, _ := newTestClient(t, f)
	events := &eventLog{}
	c.OnAuthStateChange(events.record)

	_, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		evs := events.snapshot()
		return len(evs) == 2 && evs[1] == domainauth.EventTokenRefreshed
	}, 3*time.Second, 10*time.Millisecond)

	sess, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", sess.RefreshToken)
}

func TestClient_SignOut(t *testing.T) {
	t.Run("revokes remotely and clears locally", func(t *testing.T) {
		f := newFakeAuthServer(t)
		f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return http.StatusOK, sessionBody(t, "r", time.Hour) })
		f.handle("POST /auth/v1/logout", func(recordedRequest) (int, any) { return http.StatusNoContent, nil })
		c, store := newTestClient(t, f)
		events := &eventLog{}
		c.OnAuthStateChange(events.record)

		res, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
		require.NoError(t, err)
		require.NoError(t, c.SignOut(context.Background()))

		logout := f.calls("POST /auth/v1/logout")
		require.Len(t, logout, 1)
		assert.Equal(t, "Bearer "+res.Session.AccessToken, logout[0].Auth)

		sess, err := c.GetSession(context.Background())
		require.NoError(t, err)
		assert.Nil(t, sess)
		_, err = store.Get(context.Background(), defaultStorageKey)
		assert.ErrorIs(t, err, ports.ErrSessionNotFound)
		require.Eventually(t, func() bool {
			evs := events.snapshot()
			return len(evs) == 2 && evs[1] == domainauth.EventSignedOut
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("unknown session is not an error", func(t *testing.T) {
		f := newFakeAuthServer(t)
		f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return http.StatusOK, sessionBody(t, "r", time.Hour) })
		f.handle("POST /auth/v1/logout", func(recordedRequest) (int, any) {
			return http.StatusNotFound, map[string]string{"error_code": "session_not_found"}
		})
		c, _ := newTestClient(t, f)
		_, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
		require.NoError(t, err)
		assert.NoError(t, c.SignOut(context.Background()))
	})

	t.Run("server failure is reported after local clear", func(t *testing.T) {
		f := newFakeAuthServer(t)
		f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return http.StatusOK, sessionBody(t, "r", time.Hour) })
		f.handle("POST /auth/v1/logout", func(recordedRequest) (int, any) { return http.StatusInternalServerError, nil })
		c, _ := newTestClient(t, f)
		_, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
		require.NoError(t, err)

		err = c.SignOut(context.Background())
		assert.True(t, domainauth.IsKind(err, domainauth.KindUnavailable))
		sess, _ := c.GetSession(context.Background())
		assert.Nil(t, sess)
	})
}

func TestClient_PasswordActions(t *testing.T) {
	f := newFakeAuthServer(t)
	f.handle("POST /auth/v1/recover", func(recordedRequest) (int, any) { return http.StatusOK, map[string]any{} })
	f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return http.StatusOK, sessionBody(t, "r", time.Hour) })
	f.handle("PUT /auth/v1/user", func(r recordedRequest) (int, any) {
		if r.Body["password"] == "short" {
			return http.StatusUnprocessableEntity, map[string]string{"error_code": "weak_password", "msg": "Password is too weak"}
		}
		return http.StatusOK, map[string]any{"id": testUserID, "email": testEmail}
	})
	c, _ := newTestClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.ResetPasswordForEmail(ctx, " "+testEmail, "https://portal.example.com/auth/reset-password"))
	recover := f.calls("POST /auth/v1/recover")
	require.Len(t, recover, 1)
	assert.Equal(t, "redirect_to=https%3A%2F%2Fportal.example.com%2Fauth%2Freset-password", recover[0].Query)
	assert.Equal(t, testEmail, recover[0].Body["email"])

	err := c.UpdatePassword(ctx, "new-password")
	assert.True(t, domainauth.IsKind(err, domainauth.KindNotAuthenticated))

	res, err := c.SignInWithPassword(ctx, testEmail, "secret")
	require.NoError(t, err)
	require.NoError(t, c.UpdatePassword(ctx, "new-password"))
	update := f.calls("PUT /auth/v1/user")
	require.Len(t, update, 1)
	assert.Equal(t, "Bearer "+res.Session.AccessToken, update[0].Auth)

	err = c.UpdatePassword(ctx, "short")
	assert.True(t, domainauth.IsKind(err, domainauth.KindWeakPassword))
}

func TestClient_Unsubscribe(t *testing.T) {
	f := newFakeAuthServer(t)
	f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return http.StatusOK, sessionBody(t, "r", time.Hour) })
	c, _ := newTestClient(t, f)

	kept, dropped := &eventLog{}, &eventLog{}
	c.OnAuthStateChange(kept.record)
	sub := c.OnAuthStateChange(dropped.record)
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(kept.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	assert.Empty(t, dropped.snapshot())
}

func TestClient_CommitSession(t *testing.T) {
	f := newFakeAuthServer(t)
	f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return http.StatusOK, sessionBody(t, "r", time.Hour) })
	c, store := newTestClient(t, f)

	_, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
	require.NoError(t, err)
	require.NoError(t, store.Delete(context.Background(), defaultStorageKey))

	require.NoError(t, c.CommitSession(context.Background()))
	_, err = store.Get(context.Background(), defaultStorageKey)
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		op     string
		status int
		code   string
		msg    string
		want   domainauth.ErrorKind
	}{
		{opRefresh, http.StatusBadRequest, "invalid_grant", "", domainauth.KindSessionExpired},
		{opPassword, http.StatusBadRequest, "invalid_grant", "", domainauth.KindInvalidCredentials},
		{opSignUp, http.StatusBadRequest, "", "User already registered", domainauth.KindUserExists},
		{opSignUp, http.StatusUnprocessableEntity, "email_exists", "", domainauth.KindUserExists},
		{opSignUp, http.StatusUnprocessableEntity, "weak_password", "", domainauth.KindWeakPassword},
		{opRecover, http.StatusTooManyRequests, "", "", domainauth.KindRateLimited},
		{opRecover, http.StatusBadRequest, "over_email_send_rate_limit", "", domainauth.KindRateLimited},
		{opUser, http.StatusUnauthorized, "", "", domainauth.KindNotAuthenticated},
		{opUser, http.StatusForbidden, "bad_jwt", "", domainauth.KindSessionExpired},
		{opSignUp, http.StatusBadRequest, "validation_failed", "", domainauth.KindInvalidInput},
		{opPassword, http.StatusServiceUnavailable, "", "", domainauth.KindUnavailable},
		{opPassword, http.StatusTeapot, "", "", domainauth.KindUnknown},
	}
	for _, tt := range tests {
		got := classify(tt.op, &APIError{Status: tt.status, Code: tt.code, Message: tt.msg})
		assert.Equal(t, tt.want, got, "%s %d %s", tt.op, tt.status, tt.code)
	}
}

func TestMapError_MessageFallbacks(t *testing.T) {
	err := mapError(opPassword, http.StatusBadGateway, []byte("<html>bad gateway</html>"))
	var ae *domainauth.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Bad Gateway", ae.Message)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestClient_TokenSourceFollowsSession(t *testing.T) {
	f := newFakeAuthServer(t)
	f.handle("POST /auth/v1/token", func(recordedRequest) (int, any) { return http.StatusOK, sessionBody(t, "r", time.Hour) })
	f.handle("POST /auth/v1/logout", func(recordedRequest) (int, any) { return http.StatusNoContent, nil })
	c, _ := newTestClient(t, f)
	ts := c.TokenSource()

	_, err := ts.Token()
	assert.True(t, domainauth.IsKind(err, domainauth.KindNotAuthenticated))

	res, err := c.SignInWithPassword(context.Background(), testEmail, "secret")
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, res.Session.AccessToken, tok.AccessToken)

	require.NoError(t, c.SignOut(context.Background()))
	_, err = ts.Token()
	assert.True(t, domainauth.IsKind(err, domainauth.KindNotAuthenticated))
}
