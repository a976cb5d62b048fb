package portalapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
	"golang.org/x/oauth2"
)

const testUserID = "22222222-2222-4222-8222-222222222222"

type seen struct {
	Method      string
	Path        string
	Query       string
	Auth        string
	Cookie      string
	ContentType string
	Body        []byte
}

type portalServer struct {
	srv  *httptest.Server
	mu   sync.Mutex
	reqs []seen
	fn   func(w http.ResponseWriter, r *http.Request, s seen)
}

func newPortalServer(t *testing.T, fn func(w http.ResponseWriter, r *http.Request, s seen)) *portalServer {
	t.Helper()
	ps := &portalServer{fn: fn}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s := seen{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		}
		if ck, err := r.Cookie(AccessTokenCookie); err == nil {
			s.Cookie = ck.Value
		}
		ps.mu.Lock()
		ps.reqs = append(ps.reqs, s)
		ps.mu.Unlock()
		ps.fn(w, r, s)
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *portalServer) requests() []seen {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]seen(nil), ps.reqs...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// switchableSource returns a fixed token until it is signed out.
type switchableSource struct {
	mu    sync.Mutex
	token *oauth2.Token
}

func (s *switchableSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, errors.New("not signed in")
	}
	return s.token, nil
}

func (s *switchableSource) signOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}

func newTestClient(t *testing.T, ps *portalServer, src oauth2.TokenSource) *Client {
	t.Helper()
	if src == nil {
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1", Expiry: time.Now().Add(time.Hour)})
	}
	c, err := New(Config{BaseURL: ps.srv.URL, TokenSource: src})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"})})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestClient_GetProfile(t *testing.T) {
	ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, s seen) {
		if s.Path == PathProfiles+"/"+testUserID {
			writeJSON(w, http.StatusOK, domainauth.Profile{ID: testUserID, Email: "a@example.com", Role: domainauth.RoleClient, IsActive: true})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "Profile not found"})
	})
	c := newTestClient(t, ps, nil)

	p, err := c.GetProfile(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleClient, p.Role)
	assert.Equal(t, "Bearer tok-1", ps.requests()[0].Auth)

	_, err = c.GetProfile(context.Background(), "33333333-3333-4333-8333-333333333333")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Contains(t, err.Error(), "Profile not found")
}

func TestClient_InsertProfile(t *testing.T) {
	var calls atomic.Int32
	ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, s seen) {
		if calls.Add(1) > 1 {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "message": "profile already exists"})
			return
		}
		var np domainauth.NewProfile
		_ = json.Unmarshal(s.Body, &np)
		writeJSON(w, http.StatusCreated, domainauth.Profile{ID: np.ID, Email: np.Email, Role: np.Role})
	})
	c := newTestClient(t, ps, nil)
	np := domainauth.NewProfile{ID: testUserID, Email: "a@example.com", FullName: "Alice", Role: domainauth.RoleUser, IsActive: true}

	require.NoError(t, c.InsertProfile(context.Background(), np))
	err := c.InsertProfile(context.Background(), np)
	assert.True(t, apperrors.IsConflict(err))

	req := ps.requests()[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, PathProfiles, req.Path)
	assert.Equal(t, "application/json", req.ContentType)
	assert.JSONEq(t, `{"id":"`+testUserID+`","email":"a@example.com","full_name":"Alice","role":"user","is_active":true}`, string(req.Body))
}

func TestClient_FixProfile(t *testing.T) {
	ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, s seen) {
		var req domainauth.FixProfileRequest
		_ = json.Unmarshal(s.Body, &req)
		writeJSON(w, http.StatusOK, FixProfileResponse{
			Message: "Profile fixed",
			Profile: &domainauth.Profile{ID: req.ID, Email: req.Email, Role: req.Role},
		})
	})
	c := newTestClient(t, ps, nil)

	msg, err := c.FixProfile(context.Background(), domainauth.FixProfileRequest{ID: testUserID, Email: "a@example.com", Role: domainauth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "Profile fixed", msg)
	assert.Equal(t, PathFixProfile, ps.requests()[0].Path)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusBadRequest, apperrors.IsValidation},
		{http.StatusUnauthorized, apperrors.IsUnauthorized},
		{http.StatusForbidden, apperrors.IsForbidden},
		{http.StatusNotFound, apperrors.IsNotFound},
		{http.StatusConflict, apperrors.IsConflict},
		{http.StatusGatewayTimeout, apperrors.IsTimeout},
		{http.StatusInternalServerError, func(err error) bool { return apperrors.IsAppError(err, apperrors.ErrCodeInternal) }},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, _ seen) {
				w.WriteHeader(tt.status)
			})
			c := newTestClient(t, ps, nil)
			err := c.Heartbeat(context.Background())
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
}

func TestClient_ListClients(t *testing.T) {
	ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, _ seen) {
		writeJSON(w, http.StatusOK, ClientsResponse{Clients: []*domainauth.Profile{{ID: testUserID, Role: domainauth.RoleClient, IsOnline: true}}})
	})
	c := newTestClient(t, ps, nil)

	clients, err := c.ListClients(context.Background(), "  acme ")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.True(t, clients[0].IsOnline)
	assert.Equal(t, PathAdminClients, ps.requests()[0].Path)
	assert.Equal(t, "search=acme", ps.requests()[0].Query)
}

func TestClient_Presence(t *testing.T) {
	ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, _ seen) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, ps, nil)

	require.NoError(t, c.Heartbeat(context.Background()))
	require.NoError(t, c.SetPresence(context.Background(), false))

	reqs := ps.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, PathHeartbeat, reqs[0].Path)
	assert.Empty(t, reqs[0].Body)
	assert.Equal(t, PathPresence, reqs[1].Path)
	assert.JSONEq(t, `{"is_online":false}`, string(reqs[1].Body))
}

func TestClient_SendBeacon(t *testing.T) {
	ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, _ seen) {
		w.WriteHeader(http.StatusNoContent)
	})
	src := &switchableSource{token: &oauth2.Token{AccessToken: "tok-beacon", Expiry: time.Now().Add(time.Hour)}}
	c := newTestClient(t, ps, src)

	assert.False(t, c.SendBeacon(false), "no cached credentials before the first authorized call")

	require.NoError(t, c.Heartbeat(context.Background()))
	require.True(t, c.SendBeacon(false))
	require.NoError(t, c.Close())

	reqs := ps.requests()
	require.Len(t, reqs, 2)
	beacon := reqs[1]
	assert.Equal(t, PathPresence, beacon.Path)
	assert.Empty(t, beacon.Auth)
	assert.Equal(t, "tok-beacon", beacon.Cookie)
	assert.Equal(t, "text/plain;charset=UTF-8", beacon.ContentType)
	assert.JSONEq(t, `{"is_online":false}`, string(beacon.Body))
}

func TestClient_SignedOutClearsCredentials(t *testing.T) {
	ps := newPortalServer(t, func(w http.ResponseWriter, _ *http.Request, _ seen) {
		w.WriteHeader(http.StatusNoContent)
	})
	src := &switchableSource{token: &oauth2.Token{AccessToken: "tok-1"}}
	c := newTestClient(t, ps, src)

	require.NoError(t, c.Heartbeat(context.Background()))
	src.signOut()

	err := c.Heartbeat(context.Background())
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.Len(t, ps.requests(), 1, "no request is sent without a token")
	assert.False(t, c.SendBeacon(false))
}
