// Package core holds the repository ports of the portal API and the small services built directly on them.
package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
// The core defines the interface and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value with the given TTL. A TTL of 0 never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns nil when the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	// Returns true if the key was set.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// PresenceThrottle coalesces heartbeat writes so that a user's presence row is
// written at most once per window.
type PresenceThrottle struct {
	cache  CacheRepository
	window time.Duration
}

// PresenceThrottleConfig holds configuration for heartbeat coalescing.
type PresenceThrottleConfig struct {
	Window time.Duration `json:"window"`
}

// DefaultPresenceThrottleConfig returns a PresenceThrottleConfig with sensible defaults.
func DefaultPresenceThrottleConfig() PresenceThrottleConfig {
	return PresenceThrottleConfig{Window: 15 * time.Second}
}

// NewPresenceThrottle creates a new PresenceThrottle. A nil cache or non-positive window
// disables throttling.
func NewPresenceThrottle(cache CacheRepository, cfg PresenceThrottleConfig) *PresenceThrottle {
	return &PresenceThrottle{cache: cache, window: cfg.Window}
}

// Allow reports whether a heartbeat for userID should be written now.
func (t *PresenceThrottle) Allow(ctx context.Context, userID string) (bool, error) {
	if t == nil || t.cache == nil || t.window <= 0 || userID == "" {
		return true, nil
	}
	return t.cache.SetIfNotExists(ctx, t.key(userID), []byte("1"), t.window)
}

// Reset clears the window so the next heartbeat is written immediately.
func (t *PresenceThrottle) Reset(ctx context.Context, userID string) error {
	if t == nil || t.cache == nil || userID == "" {
		return nil
	}
	_, err := t.cache.Delete(ctx, t.key(userID))
	return err
}

func (t *PresenceThrottle) key(userID string) string {
	return "presence:heartbeat:" + userID
}
