package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/ports"
	"golang.org/x/sync/singleflight"
)

const (
	defaultProfileFetchTimeout = 15 * time.Second
	defaultBootstrapTimeout    = 20 * time.Second
	defaultHeartbeatInterval   = 60 * time.Second
	defaultBeaconTimeout       = 5 * time.Second
	defaultProfileInsertTries  = 3
	defaultProfileInsertDelay  = 500 * time.Millisecond
)

// ErrIdentityAlreadyStarted is returned when Start is called more than once.
var ErrIdentityAlreadyStarted = errors.New("identity manager already started")

// IdentityPorts groups the collaborators of IdentityManager.
// Sessions and Profiles are required; the rest are optional.
type IdentityPorts struct {
	Sessions  ports.SessionStore
	Profiles  ports.ProfileStore
	Repairer  ports.ProfileRepairer
	Presence  ports.PresenceReporter
	Navigator ports.Navigator
}

// IdentityManagerConfig holds timing and routing settings. Zero values take defaults.
type IdentityManagerConfig struct {
	ProfileFetchTimeout time.Duration
	BootstrapTimeout    time.Duration
	HeartbeatInterval   time.Duration
	BeaconTimeout       time.Duration
	ProfileInsertTries  int
	ProfileInsertDelay  time.Duration
	BaseURL             string
	Paths               domainauth.Paths
	Rescue              RescuePolicy
}

func (c *IdentityManagerConfig) applyDefaults() {
	if c.ProfileFetchTimeout <= 0 {
		c.ProfileFetchTimeout = defaultProfileFetchTimeout
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = defaultBootstrapTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.BeaconTimeout <= 0 {
		c.BeaconTimeout = defaultBeaconTimeout
	}
	if c.ProfileInsertTries <= 0 {
		c.ProfileInsertTries = defaultProfileInsertTries
	}
	if c.ProfileInsertDelay < 0 {
		c.ProfileInsertDelay = 0
	}
	if c.Paths == (domainauth.Paths{}) {
		c.Paths = domainauth.DefaultPaths()
	}
}

// IdentityManagerOptions groups dependencies for IdentityManager.
type IdentityManagerOptions struct {
	Ports  IdentityPorts
	Config IdentityManagerConfig
	Logger *slog.Logger
}

type lifecycleState int

const (
	stateUninitialized lifecycleState = iota
	stateBootstrapping
	stateReady
	stateClosed
)

// IdentityManager owns the authenticated identity (credentials session plus application
// profile). It is the only writer of the published Snapshot; all methods are safe for
// concurrent use.
type IdentityManager struct {
	sessions  ports.SessionStore
	profiles  ports.ProfileStore
	repairer  ports.ProfileRepairer
	presence  ports.PresenceReporter
	navigator ports.Navigator
	cfg       IdentityManagerConfig
	logger    *slog.Logger

	heartbeat *presenceHeartbeat
	fetches   singleflight.Group
	current   atomic.Pointer[domainauth.Snapshot]

	// lifetime context, canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	state     lifecycleState
	snap      domainauth.Snapshot
	epoch     uint64
	sub       ports.Subscription
	valve     *time.Timer
	listeners map[int]func(domainauth.Snapshot)
	nextID    int
}

// NewIdentityManager constructs an IdentityManager. Sessions and Profiles are required.
func NewIdentityManager(opts IdentityManagerOptions) *IdentityManager {
	if opts.Ports.Sessions == nil {
		panic("identity manager: session store is required")
	}
	if opts.Ports.Profiles == nil {
		panic("identity manager: profile store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &IdentityManager{
		sessions:  opts.Ports.Sessions,
		profiles:  opts.Ports.Profiles,
		repairer:  opts.Ports.Repairer,
		presence:  opts.Ports.Presence,
		navigator: opts.Ports.Navigator,
		cfg:       cfg,
		logger:    logger.With("component", "identity"),
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		snap:      domainauth.Snapshot{Loading: true},
		listeners: make(map[int]func(domainauth.Snapshot)),
	}
	m.heartbeat = newPresenceHeartbeat(presenceHeartbeatConfig{
		Reporter:      opts.Ports.Presence,
		Interval:      cfg.HeartbeatInterval,
		BeaconTimeout: cfg.BeaconTimeout,
		Logger:        m.logger,
	})
	initial := m.snap
	m.current.Store(&initial)
	return m
}

// Snapshot returns the most recently published identity state.
func (m *IdentityManager) Snapshot() domainauth.Snapshot {
	return *m.current.Load()
}

// Ready is closed once the initial bootstrap completes, times out, or the manager is closed.
func (m *IdentityManager) Ready() <-chan struct{} {
	return m.ready
}

// Watch registers fn to be called with every published snapshot, in publication order.
// fn runs while the manager holds its state lock: it must not block or call back into
// the manager's actions. The returned func removes the listener.
func (m *IdentityManager) Watch(fn func(domainauth.Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Start subscribes to the auth-change stream and runs the bootstrap sequence.
// It may be called once; subsequent calls return ErrIdentityAlreadyStarted.
// ctx bounds the bootstrap queries only.
func (m *IdentityManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != stateUninitialized {
		m.mu.Unlock()
		return ErrIdentityAlreadyStarted
	}
	m.state = stateBootstrapping
	m.sub = m.sessions.OnAuthStateChange(m.handleAuthEvent)
	m.valve = time.AfterFunc(m.cfg.BootstrapTimeout, m.forceReady)
	m.wg.Add(1)
	m.mu.Unlock()

	bctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	go func() {
		defer m.wg.Done()
		defer stop()
		defer cancel()
		m.bootstrap(bctx)
	}()
	return nil
}

func (m *IdentityManager) bootstrap(ctx context.Context) {
	defer m.finishLoading()
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(ctx, "identity bootstrap panicked", "panic", r)
		}
	}()

	sess, err := m.sessions.GetSession(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "initialize identity", "error", err)
		return
	}
	if sess == nil || sess.User.ID == "" {
		return
	}

	epoch, _, ok := m.setIdentity(*sess)
	if !ok {
		return
	}
	profile := m.fetchProfile(ctx, sess.User.ID)
	m.applyProfile(epoch, sess.User.ID, profile, false)
}

// forceReady is the bootstrap safety valve.
func (m *IdentityManager) forceReady() {
	if m.Snapshot().Loading {
		m.logger.Warn("identity bootstrap exceeded safety valve, forcing completion",
			"timeout", m.cfg.BootstrapTimeout)
	}
	m.finishLoading()
}

func (m *IdentityManager) finishLoading() {
	m.readyOnce.Do(func() {
		m.mu.Lock()
		if m.valve != nil {
			m.valve.Stop()
		}
		if m.state != stateClosed {
			m.state = stateReady
			next := m.snap
			next.Loading = false
			m.publishLocked(next)
		}
		m.mu.Unlock()
		close(m.ready)
	})
}

// handleAuthEvent applies an auth-change event. Events are applied in delivery order;
// profile fetches they trigger run in the background behind the epoch guard.
func (m *IdentityManager) handleAuthEvent(event domainauth.AuthEvent, sess *domainauth.Session) {
	switch event {
	case domainauth.EventSignedIn, domainauth.EventTokenRefreshed:
		if sess == nil || sess.User.ID == "" {
			return
		}
		epoch, needProfile, ok := m.setIdentity(*sess)
		if !ok || !needProfile {
			return
		}
		userID := sess.User.ID
		m.goTracked(func() {
			profile := m.fetchProfile(m.ctx, userID)
			// A miss never clears a profile that another path resolved in the meantime.
			m.applyProfile(epoch, userID, profile, true)
		})
	case domainauth.EventSignedOut:
		m.clearIdentity()
	default:
		m.logger.Debug("ignoring auth event", "event", event)
	}
}

// setIdentity publishes a new session and user. The profile is kept only when it belongs
// to the same user; otherwise it is cleared in the same publication and the epoch advances.
func (m *IdentityManager) setIdentity(sess domainauth.Session) (uint64, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateClosed {
		return 0, false, false
	}
	next := m.snap
	user := sess.User
	if next.User == nil || next.User.ID != user.ID {
		m.epoch++
		next.Profile = nil
	}
	next.Session = &sess
	next.User = &user
	m.publishLocked(next)
	return m.epoch, next.Profile == nil, true
}

// applyProfile sets the profile if epoch and userID still describe the current identity.
// With keepOnNil a nil profile leaves the current one in place.
func (m *IdentityManager) applyProfile(epoch uint64, userID string, p *domainauth.Profile, keepOnNil bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateClosed || m.epoch != epoch || m.snap.User == nil || m.snap.User.ID != userID {
		m.logger.Debug("discarding stale profile result", "user_id", userID)
		return false
	}
	if p == nil && keepOnNil {
		return true
	}
	next := m.snap
	next.Profile = p
	m.publishLocked(next)
	return true
}

func (m *IdentityManager) clearIdentity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == stateClosed {
		return
	}
	m.epoch++
	m.publishLocked(domainauth.Snapshot{Loading: m.snap.Loading})
}

// identity returns the current epoch and user id under the state lock.
func (m *IdentityManager) identity() (uint64, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.User == nil {
		return m.epoch, ""
	}
	return m.epoch, m.snap.User.ID
}

// publishLocked stores next as the current snapshot and drives the heartbeat.
// Callers hold m.mu.
func (m *IdentityManager) publishLocked(next domainauth.Snapshot) {
	if next.Profile != nil && (next.User == nil || next.Profile.ID != next.User.ID) {
		next.Profile = nil
	}
	prev := m.snap.User
	m.snap = next
	published := next
	m.current.Store(&published)

	switch {
	case prev == nil && next.User != nil:
		m.heartbeat.start()
	case prev != nil && next.User == nil:
		m.heartbeat.stop()
	case prev != nil && next.User != nil && prev.ID != next.User.ID:
		m.heartbeat.stop()
		m.heartbeat.start()
	}

	for _, fn := range m.listeners {
		fn(published)
	}
}

// goTracked runs fn in a goroutine that Close waits for. It reports false after Close.
func (m *IdentityManager) goTracked(fn func()) bool {
	m.mu.Lock()
	if m.state == stateClosed {
		m.mu.Unlock()
		return false
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

func (m *IdentityManager) closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateClosed
}

// SetVisible forwards page visibility transitions to the presence heartbeat.
func (m *IdentityManager) SetVisible(visible bool) {
	m.heartbeat.setVisible(visible)
}

// Unload reports the page teardown: a single best-effort offline signal is sent and
// the heartbeat stops.
func (m *IdentityManager) Unload() {
	m.heartbeat.unload()
}

// Close unsubscribes from the auth-change stream, stops the heartbeat and waits for
// background work. It is safe to call more than once.
func (m *IdentityManager) Close() error {
	m.mu.Lock()
	if m.state == stateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = stateClosed
	sub := m.sub
	m.sub = nil
	if m.valve != nil {
		m.valve.Stop()
	}
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	m.heartbeat.shutdown()
	m.cancel()
	m.wg.Wait()
	m.readyOnce.Do(func() { close(m.ready) })
	return nil
}
