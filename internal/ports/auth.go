package ports

// Package ports defines interfaces (hexagonal ports) for identity-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/target/portal-api/internal/domain/auth"
)

// SignInResult is returned by a successful password sign-in.
type SignInResult struct {
	Session domainauth.Session
	User    domainauth.User
}

// SignUpInput groups parameters for registering a new identity.
type SignUpInput struct {
	Email    string
	Password string
	Metadata map[string]any
}

// AuthStateListener receives auth-change events. Session is nil for SIGNED_OUT.
type AuthStateListener func(event domainauth.AuthEvent, session *domainauth.Session)

// Subscription is a handle to an auth-change listener registration.
type Subscription interface {
	Unsubscribe()
}

// SessionStore is the hosted auth service as seen by the identity manager.
// All errors returned are *domainauth.AuthError.
type SessionStore interface {
	// GetSession returns the current session or nil when none exists.
	GetSession(ctx context.Context) (*domainauth.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (SignInResult, error)
	SignUp(ctx context.Context, in SignUpInput) (domainauth.User, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectURL string) error
	UpdatePassword(ctx context.Context, newPassword string) error
	OnAuthStateChange(fn AuthStateListener) Subscription
}

// ProfileStore reads and creates profile rows.
type ProfileStore interface {
	// GetProfile returns the profile with exactly this id.
	GetProfile(ctx context.Context, id string) (*domainauth.Profile, error)
	InsertProfile(ctx context.Context, p domainauth.NewProfile) error
}

// ProfileRepairer calls the privileged create-or-correct profile operation.
type ProfileRepairer interface {
	FixProfile(ctx context.Context, req domainauth.FixProfileRequest) (string, error)
}

// PresenceReporter reports online presence for the current identity.
type PresenceReporter interface {
	Heartbeat(ctx context.Context) error
	SetPresence(ctx context.Context, online bool) error
}

// BeaconSender is an optional PresenceReporter capability: a non-blocking terminal
// send that survives teardown of the caller. It returns false when the transport is unavailable.
type BeaconSender interface {
	SendBeacon(online bool) bool
}

// Navigator performs post-authentication navigation.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
}

// SessionCommitter is an optional SessionStore capability that flushes the current
// credentials to persistent storage so the next route evaluation re-reads them.
type SessionCommitter interface {
	CommitSession(ctx context.Context) error
}

// ErrSessionNotFound is returned by SessionPersistence.Get when no session is stored under the key.
var ErrSessionNotFound = errors.New("session not found")

// SessionPersistence stores credentials sessions keyed by a client key.
type SessionPersistence interface {
	Save(ctx context.Context, key string, sess domainauth.Session) error
	Get(ctx context.Context, key string) (domainauth.Session, error)
	Delete(ctx context.Context, key string) error
}

// Claims are the verified facts extracted from an access token.
type Claims struct {
	UserID string
	Email  string
}

// TokenVerifier verifies access tokens presented to the portal API.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}
