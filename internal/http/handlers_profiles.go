package httpx

import (
	"net/http"

	"github.com/target/portal-api/internal/core"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/service"
)

// ProfileHandlers serves profile reads, self-service creation and the admin client listing.
type ProfileHandlers struct {
	Svc *service.ProfileService
}

const (
	defaultClientListLimit = 100
	maxClientListLimit     = 500
)

// GetByID returns a profile. Callers may read their own; admins may read any.
// GET /api/profiles/{id}.
func (h *ProfileHandlers) GetByID(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	p, err := h.Svc.GetProfile(r.Context(), claims, r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err, "get_failed")
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// Create inserts the caller's own profile row.
// POST /api/profiles.
func (h *ProfileHandlers) Create(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	var np domainauth.NewProfile
	if !DecodeJSON(w, r, &np) {
		return
	}
	p, err := h.Svc.CreateProfile(r.Context(), claims, np)
	if err != nil {
		WriteServiceError(w, err, "create_failed")
		return
	}
	WriteJSON(w, http.StatusCreated, p)
}

// ListClients returns active client profiles with their presence.
// GET /api/admin/clients?search=&limit=&offset=.
func (h *ProfileHandlers) ListClients(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultClientListLimit, maxClientListLimit)
	clients, err := h.Svc.ListClients(r.Context(), core.ClientListOptions{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		WriteServiceError(w, err, "list_failed")
		return
	}
	if clients == nil {
		clients = []*domainauth.Profile{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"clients": clients,
		"limit":   limit,
		"offset":  offset,
	})
}
