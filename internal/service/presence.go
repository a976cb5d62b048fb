package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/target/portal-api/internal/ports"
)

type presenceHeartbeatConfig struct {
	Reporter      ports.PresenceReporter
	Interval      time.Duration
	BeaconTimeout time.Duration
	Logger        *slog.Logger
}

// presenceHeartbeat reports liveness while an identity is present and the page is visible.
// start and stop never block on in-flight reports.
type presenceHeartbeat struct {
	reporter      ports.PresenceReporter
	interval      time.Duration
	beaconTimeout time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	active  bool
	visible bool
	closed  bool
	cancel  context.CancelFunc
	loops   sync.WaitGroup
}

func newPresenceHeartbeat(cfg presenceHeartbeatConfig) *presenceHeartbeat {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &presenceHeartbeat{
		reporter:      cfg.Reporter,
		interval:      cfg.Interval,
		beaconTimeout: cfg.BeaconTimeout,
		logger:        logger,
		visible:       true,
	}
}

// start begins reporting for a newly present identity.
func (h *presenceHeartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.reporter == nil {
		return
	}
	h.active = true
	if h.visible {
		h.runLocked()
	}
}

// stop ends reporting. No further heartbeats are sent until start is called again.
func (h *presenceHeartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = false
	h.haltLocked()
}

// shutdown stops reporting permanently and waits for the loop to exit.
func (h *presenceHeartbeat) shutdown() {
	h.mu.Lock()
	h.closed = true
	h.active = false
	h.haltLocked()
	h.mu.Unlock()
	h.loops.Wait()
}

func (h *presenceHeartbeat) setVisible(visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.visible == visible {
		return
	}
	h.visible = visible
	if h.closed || !h.active {
		return
	}
	if visible {
		h.runLocked()
		return
	}
	h.haltLocked()
}

// unload sends a single terminal offline report, preferring the beacon transport,
// and stops the heartbeat.
func (h *presenceHeartbeat) unload() {
	h.mu.Lock()
	wasActive := h.active && !h.closed
	h.active = false
	h.haltLocked()
	h.mu.Unlock()

	if !wasActive || h.reporter == nil {
		return
	}
	if beacon, ok := h.reporter.(ports.BeaconSender); ok && beacon.SendBeacon(false) {
		return
	}
	// Detached from any caller context so the report can outlive the page.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.beaconTimeout)
		defer cancel()
		if err := h.reporter.SetPresence(ctx, false); err != nil {
			h.logger.Warn("offline presence report failed", "error", err)
		}
	}()
}

// running reports whether a heartbeat loop is currently scheduled.
func (h *presenceHeartbeat) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *presenceHeartbeat) runLocked() {
	h.haltLocked()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.loops.Add(1)
	go func() {
		defer h.loops.Done()
		h.loop(ctx)
	}()
}

func (h *presenceHeartbeat) haltLocked() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *presenceHeartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *presenceHeartbeat) beat(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := h.reporter.Heartbeat(ctx); err != nil && ctx.Err() == nil {
		h.logger.Warn("presence heartbeat failed", "error", err)
	}
}
