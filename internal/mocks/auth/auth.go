package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"sync"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
	"github.com/target/portal-api/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.SessionStore       = (*FakeSessionStore)(nil)
	_ ports.SessionCommitter   = (*FakeSessionStore)(nil)
	_ ports.ProfileStore       = (*MemoryProfileStore)(nil)
	_ ports.PresenceReporter   = (*RecordingPresence)(nil)
	_ ports.BeaconSender       = (*RecordingPresence)(nil)
	_ ports.SessionPersistence = (*MemorySessionPersistence)(nil)
)

// FakeSessionStore simulates the hosted auth service. Events passed to Emit are delivered
// synchronously, in order, to every registered listener.
type FakeSessionStore struct {
	GetSessionFunc func(ctx context.Context) (*domainauth.Session, error)
	SignInFunc     func(ctx context.Context, email, password string) (ports.SignInResult, error)
	SignUpFunc     func(ctx context.Context, in ports.SignUpInput) (domainauth.User, error)
	SignOutErr     error
	ResetErr       error
	UpdateErr      error

	mu          sync.Mutex
	listeners   map[int]ports.AuthStateListener
	nextID      int
	signOuts    int
	commits     int
	resetCalls  []ResetCall
	signUpCalls []ports.SignUpInput
}

// ResetCall records a ResetPasswordForEmail invocation.
type ResetCall struct {
	Email       string
	RedirectURL string
}

// NewFakeSessionStore creates a store with no current session.
func NewFakeSessionStore() *FakeSessionStore {
	return &FakeSessionStore{listeners: make(map[int]ports.AuthStateListener)}
}

// NewSession builds a session for a user with a one-hour expiry.
func NewSession(userID, email string) *domainauth.Session {
	return &domainauth.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         domainauth.User{ID: userID, Email: email},
	}
}

func (f *FakeSessionStore) GetSession(ctx context.Context) (*domainauth.Session, error) {
	if f.GetSessionFunc != nil {
		return f.GetSessionFunc(ctx)
	}
	return nil, nil
}

func (f *FakeSessionStore) SignInWithPassword(ctx context.Context, email, password string) (ports.SignInResult, error) {
	if f.SignInFunc != nil {
		return f.SignInFunc(ctx, email, password)
	}
	return ports.SignInResult{}, domainauth.NewAuthError(domainauth.KindInvalidCredentials, "Invalid login credentials")
}

func (f *FakeSessionStore) SignUp(ctx context.Context, in ports.SignUpInput) (domainauth.User, error) {
	f.mu.Lock()
	f.signUpCalls = append(f.signUpCalls, in)
	f.mu.Unlock()
	if f.SignUpFunc != nil {
		return f.SignUpFunc(ctx, in)
	}
	return domainauth.User{}, errors.New("sign up not configured")
}

func (f *FakeSessionStore) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	return f.SignOutErr
}

func (f *FakeSessionStore) ResetPasswordForEmail(_ context.Context, email, redirectURL string) error {
	f.mu.Lock()
	f.resetCalls = append(f.resetCalls, ResetCall{Email: email, RedirectURL: redirectURL})
	f.mu.Unlock()
	return f.ResetErr
}

func (f *FakeSessionStore) UpdatePassword(context.Context, string) error {
	return f.UpdateErr
}

func (f *FakeSessionStore) CommitSession(context.Context) error {
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return nil
}

func (f *FakeSessionStore) OnAuthStateChange(fn ports.AuthStateListener) ports.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners == nil {
		f.listeners = make(map[int]ports.AuthStateListener)
	}
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return subscription(func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	})
}

// Emit delivers an auth-change event to all listeners.
func (f *FakeSessionStore) Emit(event domainauth.AuthEvent, sess *domainauth.Session) {
	f.mu.Lock()
	fns := make([]ports.AuthStateListener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, sess)
	}
}

// Listeners returns the number of active subscriptions.
func (f *FakeSessionStore) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// SignOuts returns the number of SignOut calls.
func (f *FakeSessionStore) SignOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

// Commits returns the number of CommitSession calls.
func (f *FakeSessionStore) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

// ResetCalls returns the recorded reset requests.
func (f *FakeSessionStore) ResetCalls() []ResetCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ResetCall(nil), f.resetCalls...)
}

// SignUpCalls returns the recorded sign-up inputs.
func (f *FakeSessionStore) SignUpCalls() []ports.SignUpInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.SignUpInput(nil), f.signUpCalls...)
}

type subscription func()

func (s subscription) Unsubscribe() { s() }

// MemoryProfileStore is an in-memory profile store. GetFunc overrides lookups when set.
type MemoryProfileStore struct {
	GetFunc    func(ctx context.Context, id string) (*domainauth.Profile, error)
	InsertErrs []error

	mu       sync.Mutex
	profiles map[string]domainauth.Profile
	gets     int
	inserts  int
}

// NewMemoryProfileStore creates a store seeded with profiles.
func NewMemoryProfileStore(seed ...domainauth.Profile) *MemoryProfileStore {
	m := &MemoryProfileStore{profiles: make(map[string]domainauth.Profile)}
	for _, p := range seed {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *MemoryProfileStore) GetProfile(ctx context.Context, id string) (*domainauth.Profile, error) {
	m.mu.Lock()
	m.gets++
	fn := m.GetFunc
	p, ok := m.profiles[id]
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	if !ok {
		return nil, apperrors.NotFound("profile not found")
	}
	return &p, nil
}

func (m *MemoryProfileStore) InsertProfile(_ context.Context, np domainauth.NewProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	attempt := m.inserts
	m.inserts++
	if attempt < len(m.InsertErrs) && m.InsertErrs[attempt] != nil {
		return m.InsertErrs[attempt]
	}
	if _, exists := m.profiles[np.ID]; exists {
		return apperrors.Conflict("profile already exists")
	}
	var fullName *string
	if np.FullName != "" {
		name := np.FullName
		fullName = &name
	}
	now := time.Now().UTC()
	m.profiles[np.ID] = domainauth.Profile{
		ID:        np.ID,
		Email:     np.Email,
		FullName:  fullName,
		Role:      np.Role,
		IsActive:  np.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Put stores or replaces a profile.
func (m *MemoryProfileStore) Put(p domainauth.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// Profile returns the stored profile for id.
func (m *MemoryProfileStore) Profile(id string) (domainauth.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	return p, ok
}

// Gets returns the number of GetProfile calls.
func (m *MemoryProfileStore) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// Inserts returns the number of InsertProfile calls.
func (m *MemoryProfileStore) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// RecordingPresence records presence reports. Beacon reports are accepted only when
// BeaconAvailable is set.
type RecordingPresence struct {
	BeaconAvailable bool
	HeartbeatErr    error

	mu         sync.Mutex
	heartbeats int
	reports    []bool
	beacons    []bool
}

func (r *RecordingPresence) Heartbeat(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return r.HeartbeatErr
}

func (r *RecordingPresence) SetPresence(_ context.Context, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, online)
	return nil
}

func (r *RecordingPresence) SendBeacon(online bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.BeaconAvailable {
		return false
	}
	r.beacons = append(r.beacons, online)
	return true
}

// Heartbeats returns the number of heartbeats sent.
func (r *RecordingPresence) Heartbeats() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

// Reports returns the explicit presence reports sent through SetPresence.
func (r *RecordingPresence) Reports() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.reports...)
}

// Beacons returns the reports sent through SendBeacon.
func (r *RecordingPresence) Beacons() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.beacons...)
}

// MemorySessionPersistence is an in-memory credential store for unit tests.
type MemorySessionPersistence struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
}

// NewMemorySessionPersistence creates a new in-memory credential store.
func NewMemorySessionPersistence() *MemorySessionPersistence {
	return &MemorySessionPersistence{sessions: make(map[string]domainauth.Session)}
}

func (m *MemorySessionPersistence) Save(_ context.Context, key string, sess domainauth.Session) error {
	if key == "" {
		return errors.New("session key cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = sess
	return nil
}

func (m *MemorySessionPersistence) Get(_ context.Context, key string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return domainauth.Session{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemorySessionPersistence) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

// ErrNotFound is returned by mocks when an entity is not present.
var ErrNotFound = ports.ErrSessionNotFound
