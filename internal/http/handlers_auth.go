package httpx

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/service"
)

// AuthHandlers serves the presence and profile-repair endpoints used by signed-in clients.
type AuthHandlers struct {
	Svc    *service.ProfileService
	Logger *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type presenceRequest struct {
	Online bool `json:"is_online"`
}

type fixProfileResponse struct {
	Message string              `json:"message"`
	Profile *domainauth.Profile `json:"profile,omitempty"`
}

// Heartbeat marks the caller online.
// POST /api/auth/heartbeat.
func (h *AuthHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	if err := h.Svc.Heartbeat(r.Context(), claims.UserID); err != nil {
		h.logger().ErrorContext(r.Context(), "heartbeat failed", "user_id", claims.UserID, "error", err)
		WriteServiceError(w, err, "heartbeat_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Presence records an explicit online/offline report.
// POST /api/auth/presence with {"is_online": bool}.
//
// The body is parsed leniently: beacons arrive as text/plain and may be truncated
// during teardown, and anything unreadable is taken as an offline report.
func (h *AuthHandlers) Presence(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	var req presenceRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		h.logger().DebugContext(r.Context(), "unreadable presence report, treating as offline",
			"user_id", claims.UserID, "error", err)
		req.Online = false
	}

	if err := h.Svc.SetPresence(r.Context(), claims.UserID, req.Online); err != nil {
		h.logger().ErrorContext(r.Context(), "presence update failed", "user_id", claims.UserID, "error", err)
		WriteServiceError(w, err, "presence_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FixProfile creates or corrects the caller's own profile row.
// POST /api/auth/fix-profile.
func (h *AuthHandlers) FixProfile(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	var req domainauth.FixProfileRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = claims.UserID
	}

	res, err := h.Svc.FixProfile(r.Context(), claims, req)
	if err != nil {
		h.logger().WarnContext(r.Context(), "fix profile failed", "user_id", claims.UserID, "error", err)
		WriteServiceError(w, err, "fix_profile_failed")
		return
	}
	WriteJSON(w, http.StatusOK, fixProfileResponse{Message: res.Message, Profile: res.Profile})
}
