package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/target/portal-api/internal/core"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
	"github.com/target/portal-api/internal/ports"
)

const (
	defaultClientListLimit = 100
	maxClientListLimit     = 500
)

// ProfileServiceOptions groups dependencies for ProfileService.
type ProfileServiceOptions struct {
	Repo     core.ProfileRepository
	Throttle *core.PresenceThrottle
	Config   ProfileServiceConfig
}

// ProfileServiceConfig holds policy settings for ProfileService.
type ProfileServiceConfig struct {
	Rescue RescuePolicy
	Now    func() time.Time
	Logger *slog.Logger
}

// ProfileService implements the privileged profile operations of the portal API:
// presence reporting, profile repair and the admin client listing.
type ProfileService struct {
	repo     core.ProfileRepository
	throttle *core.PresenceThrottle
	rescue   RescuePolicy
	now      func() time.Time
	logger   *slog.Logger
}

// NewProfileService constructs a new ProfileService. Repo is required.
func NewProfileService(opts ProfileServiceOptions) *ProfileService {
	if opts.Repo == nil {
		panic("profile service: repository is required")
	}
	now := opts.Config.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{
		repo:     opts.Repo,
		throttle: opts.Throttle,
		rescue:   opts.Config.Rescue,
		now:      now,
		logger:   logger.With("component", "profile_service"),
	}
}

// Heartbeat marks the caller online and refreshes last_seen. Writes inside the
// throttle window are skipped.
func (s *ProfileService) Heartbeat(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	allowed, err := s.throttle.Allow(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "presence throttle unavailable", "user_id", userID, "error", err)
		allowed = true
	}
	if !allowed {
		return nil
	}
	params := core.UpdatePresenceParams{ID: userID, Online: true, SeenAt: s.now().UTC()}
	if err := s.repo.UpdatePresence(ctx, params); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

// SetPresence records an explicit online or offline report for the caller.
func (s *ProfileService) SetPresence(ctx context.Context, userID string, online bool) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if !online {
		if err := s.throttle.Reset(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "reset presence throttle", "user_id", userID, "error", err)
		}
	}
	params := core.UpdatePresenceParams{ID: userID, Online: online, SeenAt: s.now().UTC()}
	if err := s.repo.UpdatePresence(ctx, params); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

// FixProfileResult is returned by FixProfile.
type FixProfileResult struct {
	Profile *domainauth.Profile
	Message string
}

// FixProfile creates or corrects the caller's own profile row. The admin role is granted
// only to configured rescue accounts; any other request is stored as user. An existing
// role is never lowered by a repair, and a deactivated profile cannot repair itself.
func (s *ProfileService) FixProfile(
	ctx context.Context,
	caller ports.Claims,
	req domainauth.FixProfileRequest,
) (*FixProfileResult, error) {
	if err := validateUserID(req.ID); err != nil {
		return nil, err
	}
	if req.ID != caller.UserID {
		return nil, apperrors.Forbidden("profiles can only be repaired by their owner")
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		req.Email = caller.Email
	}
	if req.Email == "" {
		return nil, apperrors.ValidationField("email", "email is required")
	}

	role := domainauth.RoleUser
	if req.Role == domainauth.RoleAdmin {
		if s.rescue.Matches(caller.Email) {
			role = domainauth.RoleAdmin
		} else {
			s.logger.WarnContext(ctx, "admin repair requested by non-rescue account", "user_id", caller.UserID)
		}
	}
	req.Role = role
	req.FullName = strings.TrimSpace(req.FullName)

	existing, err := s.repo.GetByID(ctx, req.ID)
	switch {
	case err == nil && !existing.IsActive:
		s.logger.WarnContext(ctx, "repair refused for deactivated profile", "user_id", caller.UserID)
		return nil, apperrors.Forbidden("profile is deactivated")
	case err != nil && !apperrors.IsNotFound(err):
		return nil, fmt.Errorf("load profile: %w", err)
	}

	p, err := s.repo.Upsert(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	s.logger.InfoContext(ctx, "profile repaired", "user_id", p.ID, "role", p.Role)
	return &FixProfileResult{Profile: p, Message: "Profile fixed"}, nil
}

// GetProfile returns the profile with id. Callers may read their own profile;
// admins may read any.
func (s *ProfileService) GetProfile(ctx context.Context, caller ports.Claims, id string) (*domainauth.Profile, error) {
	if err := validateUserID(id); err != nil {
		return nil, err
	}
	if id != caller.UserID {
		role, err := s.ResolveRole(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		if role != domainauth.RoleAdmin {
			return nil, apperrors.Forbidden("admin access required")
		}
	}
	return s.repo.GetByID(ctx, id)
}

// CreateProfile inserts the caller's own profile with the user role.
func (s *ProfileService) CreateProfile(
	ctx context.Context,
	caller ports.Claims,
	np domainauth.NewProfile,
) (*domainauth.Profile, error) {
	if err := validateUserID(np.ID); err != nil {
		return nil, err
	}
	if np.ID != caller.UserID {
		return nil, apperrors.Forbidden("profiles can only be created by their owner")
	}
	np.Email = strings.TrimSpace(np.Email)
	if np.Email == "" {
		return nil, apperrors.ValidationField("email", "email is required")
	}
	np.Role = domainauth.RoleUser
	np.IsActive = true
	return s.repo.Insert(ctx, np)
}

// ResolveRole returns the caller's current role from the profile row.
// A missing profile resolves to the user role.
func (s *ProfileService) ResolveRole(ctx context.Context, userID string) (domainauth.Role, error) {
	p, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domainauth.RoleUser, nil
		}
		return "", fmt.Errorf("resolve role: %w", err)
	}
	if !p.IsActive {
		return domainauth.RoleUser, nil
	}
	return p.Role, nil
}

// ListClients returns active client profiles ordered by name, optionally filtered by search.
func (s *ProfileService) ListClients(ctx context.Context, opts core.ClientListOptions) ([]*domainauth.Profile, error) {
	opts.Search = strings.TrimSpace(opts.Search)
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultClientListLimit
	case opts.Limit > maxClientListLimit:
		opts.Limit = maxClientListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.repo.ListClients(ctx, opts)
}

func validateUserID(id string) error {
	if id == "" {
		return apperrors.ValidationField("id", "id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.ValidationField("id", "id must be a UUID")
	}
	return nil
}
