package auth

// Package auth contains domain-level types for identities, sessions and profiles.
// It is pure and free of framework/adapter concerns.

import (
	"strings"
	"time"
)

// Role represents an application's authorization role.
// Keep string form for easy persistence and JSON.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
	RoleUser   Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClient, RoleUser:
		return true
	default:
		return false
	}
}

// ParseRole normalises s into a Role. Unknown values map to RoleUser.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return RoleUser
	}
	return r
}

// User is the authenticated principal as known by the hosted auth service.
type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// FullName returns the full_name signup metadata, if any.
func (u User) FullName() string {
	if u.Metadata == nil {
		return ""
	}
	if v, ok := u.Metadata["full_name"].(string); ok {
		return v
	}
	return ""
}

// Session is the credentials handle issued by the hosted auth service.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Profile is the application-owned record describing a user's role and display attributes.
type Profile struct {
	ID        string     `json:"id"         db:"id"`
	Email     string     `json:"email"      db:"email"`
	FullName  *string    `json:"full_name"  db:"full_name"`
	Role      Role       `json:"role"       db:"role"`
	IsActive  bool       `json:"is_active"  db:"is_active"`
	AvatarURL *string    `json:"avatar_url" db:"avatar_url"`
	IsOnline  bool       `json:"is_online"  db:"is_online"`
	LastSeen  *time.Time `json:"last_seen"  db:"last_seen"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// NewProfile carries the fields used to create a profile row.
type NewProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
}

// FixProfileRequest asks the privileged repair endpoint to create or correct a profile row.
type FixProfileRequest struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     Role   `json:"role"`
}

// AuthEvent identifies an entry in the auth-change stream.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
)

// Snapshot is the consumer-visible identity state. Values are immutable once published.
type Snapshot struct {
	Session *Session
	User    *User
	Profile *Profile
	Loading bool
}

// IsAdmin is derived from the profile role on every call.
func (s Snapshot) IsAdmin() bool {
	return s.Profile != nil && s.Profile.Role == RoleAdmin
}

// Authenticated reports whether an identity user is present.
func (s Snapshot) Authenticated() bool { return s.User != nil }

// UserID returns the identity user id or "".
func (s Snapshot) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Paths holds the navigation targets used after sign-in and sign-out.
type Paths struct {
	Login           string
	AdminDashboard  string
	ClientDashboard string
	ResetPassword   string
}

// DefaultPaths returns the portal's standard routes.
func DefaultPaths() Paths {
	return Paths{
		Login:           "/auth/login",
		AdminDashboard:  "/admin/dashboard",
		ClientDashboard: "/client/dashboard",
		ResetPassword:   "/auth/reset-password",
	}
}

// RedirectPath picks the post-login destination for a resolved profile.
// Anything other than admin or client, including a missing profile, goes back to login.
func RedirectPath(p *Profile, paths Paths) string {
	if p == nil {
		return paths.Login
	}
	switch p.Role {
	case RoleAdmin:
		return paths.AdminDashboard
	case RoleClient:
		return paths.ClientDashboard
	default:
		return paths.Login
	}
}
