package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/portal-api/internal/core"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
	"github.com/target/portal-api/internal/mocks"
	"github.com/target/portal-api/internal/ports"
	"github.com/target/portal-api/internal/service"
	"go.uber.org/mock/gomock"
)

const (
	userID  = "aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa"
	adminID = "bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb"
	otherID = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// tokenVerifier accepts tokens listed in its map.
type tokenVerifier map[string]ports.Claims

func (v tokenVerifier) Verify(_ context.Context, raw string) (ports.Claims, error) {
	c, ok := v[raw]
	if !ok {
		return ports.Claims{}, errors.New("invalid token")
	}
	return c, nil
}

type routerFixture struct {
	repo    *mocks.MockProfileRepository
	handler http.Handler
	logs    *bytes.Buffer
}

func newRouterFixture(t *testing.T, health map[string]HealthCheck) *routerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockProfileRepository(ctrl)
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	svc := service.NewProfileService(service.ProfileServiceOptions{
		Repo: repo,
		Config: service.ProfileServiceConfig{
			Rescue: service.NewRescuePolicy([]string{"rescue@example.com"}),
			Now:    func() time.Time { return fixedNow },
			Logger: logger,
		},
	})
	verifier := tokenVerifier{
		"user-token":  {UserID: userID, Email: "user@example.com"},
		"admin-token": {UserID: adminID, Email: "admin@example.com"},
	}
	return &routerFixture{
		repo:    repo,
		handler: Recover(logger)(Logging(logger)(NewRouter(RouterServices{Profiles: svc, Verifier: verifier, Health: health, Logger: logger}))),
		logs:    logs,
	}
}

func (f *routerFixture) do(method, target, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestHeartbeatHandler(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.repo.EXPECT().
		UpdatePresence(gomock.Any(), core.UpdatePresenceParams{ID: userID, Online: true, SeenAt: fixedNow}).
		Return(nil)

	rec := f.do(http.MethodPost, "/api/auth/heartbeat", "user-token", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHeartbeatHandler_RepoFailure(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.repo.EXPECT().UpdatePresence(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	rec := f.do(http.MethodPost, "/api/auth/heartbeat", "user-token", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "heartbeat_failed", body.Error)
	assert.NotContains(t, body.Message, "connection reset")
}

func TestPresenceHandler(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		wantOnline  bool
	}{
		{"online report", `{"is_online":true}`, "application/json", true},
		{"offline report", `{"is_online":false}`, "application/json", false},
		{"beacon text payload", `{"is_online":false}`, "text/plain;charset=UTF-8", false},
		{"beacon online payload", `{"is_online":true}`, "text/plain;charset=UTF-8", true},
		{"unparsable body is offline", `{"onl`, "text/plain", false},
		{"empty body is offline", ``, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, nil)
			f.repo.EXPECT().
				UpdatePresence(gomock.Any(), core.UpdatePresenceParams{ID: userID, Online: tt.wantOnline, SeenAt: fixedNow}).
				Return(nil)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/presence", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer user-token")
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusNoContent, rec.Code)
		})
	}
}

func TestPresenceHandler_CookieAuth(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.repo.EXPECT().UpdatePresence(gomock.Any(), gomock.Any()).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/presence", strings.NewReader(`{"is_online":false}`))
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "user-token"})
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestFixProfileHandler(t *testing.T) {
	t.Run("stores the user role for non-rescue callers", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), userID).Return(nil, apperrors.NotFound("profile not found"))
		f.repo.EXPECT().
			Upsert(gomock.Any(), domainauth.FixProfileRequest{ID: userID, Email: "user@example.com", FullName: "Una", Role: domainauth.RoleUser}).
			Return(&domainauth.Profile{ID: userID, Email: "user@example.com", Role: domainauth.RoleUser}, nil)

		body := `{"id":"` + userID + `","email":"user@example.com","full_name":" Una ","role":"admin"}`
		rec := f.do(http.MethodPost, "/api/auth/fix-profile", "user-token", strings.NewReader(body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp fixProfileResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "Profile fixed", resp.Message)
		assert.Equal(t, domainauth.RoleUser, resp.Profile.Role)
	})

	t.Run("id defaults to the caller", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), userID).Return(nil, apperrors.NotFound("profile not found"))
		f.repo.EXPECT().
			Upsert(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req domainauth.FixProfileRequest) (*domainauth.Profile, error) {
				assert.Equal(t, userID, req.ID)
				return &domainauth.Profile{ID: req.ID, Role: req.Role}, nil
			})

		rec := f.do(http.MethodPost, "/api/auth/fix-profile", "user-token", strings.NewReader(`{"email":"user@example.com"}`))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("deactivated callers cannot reactivate themselves", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), userID).
			Return(&domainauth.Profile{ID: userID, Email: "user@example.com", Role: domainauth.RoleAdmin}, nil)

		rec := f.do(http.MethodPost, "/api/auth/fix-profile", "user-token", strings.NewReader(`{"email":"user@example.com"}`))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("other users' profiles are forbidden", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		rec := f.do(http.MethodPost, "/api/auth/fix-profile", "user-token",
			strings.NewReader(`{"id":"`+otherID+`","email":"x@example.com"}`))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		rec := f.do(http.MethodPost, "/api/auth/fix-profile", "user-token", strings.NewReader(`{"is_admin":true}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body errorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "invalid_json", body.Error)
	})
}

func TestGetProfileHandler(t *testing.T) {
	t.Run("own profile", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), userID).
			Return(&domainauth.Profile{ID: userID, Role: domainauth.RoleClient, IsActive: true}, nil)

		rec := f.do(http.MethodGet, "/api/profiles/"+userID, "user-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var p domainauth.Profile
		decodeBody(t, rec, &p)
		assert.Equal(t, domainauth.RoleClient, p.Role)
	})

	t.Run("missing profile", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), userID).Return(nil, apperrors.NotFound("Profile not found"))

		rec := f.do(http.MethodGet, "/api/profiles/"+userID, "user-token", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		var body errorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "Profile not found", body.Message)
	})

	t.Run("another user's profile needs admin", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), userID).
			Return(&domainauth.Profile{ID: userID, Role: domainauth.RoleClient, IsActive: true}, nil)

		rec := f.do(http.MethodGet, "/api/profiles/"+otherID, "user-token", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		rec := f.do(http.MethodGet, "/api/profiles/not-a-uuid", "user-token", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body errorResponse
		decodeBody(t, rec, &body)
		assert.Equal(t, "id", body.Field)
	})
}

func TestCreateProfileHandler(t *testing.T) {
	t.Run("created with the user role", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().
			Insert(gomock.Any(), domainauth.NewProfile{ID: userID, Email: "user@example.com", FullName: "Una", Role: domainauth.RoleUser, IsActive: true}).
			Return(&domainauth.Profile{ID: userID, Email: "user@example.com", Role: domainauth.RoleUser, IsActive: true}, nil)

		body := `{"id":"` + userID + `","email":"user@example.com","full_name":"Una","role":"admin","is_active":false}`
		rec := f.do(http.MethodPost, "/api/profiles", "user-token", strings.NewReader(body))
		assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("duplicate", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil, apperrors.Conflict("profile already exists"))

		rec := f.do(http.MethodPost, "/api/profiles", "user-token",
			strings.NewReader(`{"id":"`+userID+`","email":"user@example.com"}`))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestListClientsHandler(t *testing.T) {
	t.Run("admin lists clients", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), adminID).
			Return(&domainauth.Profile{ID: adminID, Role: domainauth.RoleAdmin, IsActive: true}, nil)
		f.repo.EXPECT().
			ListClients(gomock.Any(), core.ClientListOptions{Search: "acme", Limit: 10, Offset: 5}).
			Return([]*domainauth.Profile{{ID: userID, Role: domainauth.RoleClient, IsOnline: true}}, nil)

		rec := f.do(http.MethodGet, "/api/admin/clients?search=%20acme%20&limit=10&offset=5", "admin-token", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body struct {
			Clients []domainauth.Profile `json:"clients"`
			Limit   int                  `json:"limit"`
		}
		decodeBody(t, rec, &body)
		require.Len(t, body.Clients, 1)
		assert.True(t, body.Clients[0].IsOnline)
		assert.Equal(t, 10, body.Limit)
	})

	t.Run("empty list encodes as an array", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), adminID).
			Return(&domainauth.Profile{ID: adminID, Role: domainauth.RoleAdmin, IsActive: true}, nil)
		f.repo.EXPECT().ListClients(gomock.Any(), gomock.Any()).Return(nil, nil)

		rec := f.do(http.MethodGet, "/api/admin/clients", "admin-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"clients":[]`)
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), userID).
			Return(&domainauth.Profile{ID: userID, Role: domainauth.RoleClient, IsActive: true}, nil)

		rec := f.do(http.MethodGet, "/api/admin/clients", "user-token", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("deactivated admin is forbidden", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.repo.EXPECT().GetByID(gomock.Any(), adminID).
			Return(&domainauth.Profile{ID: adminID, Role: domainauth.RoleAdmin, IsActive: false}, nil)

		rec := f.do(http.MethodGet, "/api/admin/clients", "admin-token", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestHealthHandler(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		f := newRouterFixture(t, map[string]HealthCheck{
			"cache": func(context.Context) error { return nil },
		})
		rec := f.do(http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","checks":{"cache":"ok"}}`, rec.Body.String())
	})

	t.Run("failing check", func(t *testing.T) {
		f := newRouterFixture(t, map[string]HealthCheck{
			"cache":    func(context.Context) error { return nil },
			"database": func(context.Context) error { return errors.New("down") },
		})
		rec := f.do(http.MethodGet, "/healthz", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"status":"degraded","checks":{"cache":"ok","database":"unavailable"}}`, rec.Body.String())
	})

	t.Run("head has no body", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		rec := f.do(http.MethodHead, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}
