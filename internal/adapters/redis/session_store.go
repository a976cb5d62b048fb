// Package redis provides Redis-based adapters for the portal.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/ports"
)

var _ ports.SessionPersistence = (*SessionStore)(nil)

// DefaultRefreshTTL bounds how long a refreshable session is retained.
const DefaultRefreshTTL = 30 * 24 * time.Hour

// ErrNotFound is returned when a session is not found.
var ErrNotFound = ports.ErrSessionNotFound

// SessionStore persists credentials sessions in Redis, keyed by a client key.
// Sessions without a refresh token expire with their access token; refreshable
// sessions are kept for the refresh TTL.
type SessionStore struct {
	client     redis.UniversalClient
	prefix     string
	refreshTTL time.Duration
	now        func() time.Time
}

// SessionStoreOptions configures a SessionStore. Zero values take defaults.
type SessionStoreOptions struct {
	Prefix     string
	RefreshTTL time.Duration
	Now        func() time.Time
}

// NewSessionStore creates a new Redis-based session store.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return NewSessionStoreWithOptions(client, SessionStoreOptions{})
}

// NewSessionStoreWithOptions creates a Redis session store with custom settings.
func NewSessionStoreWithOptions(client redis.UniversalClient, opts SessionStoreOptions) *SessionStore {
	if opts.Prefix == "" {
		opts.Prefix = "portal:session:"
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionStore{
		client:     client,
		prefix:     opts.Prefix,
		refreshTTL: opts.RefreshTTL,
		now:        opts.Now,
	}
}

func (s *SessionStore) ttl(sess domainauth.Session) time.Duration {
	if sess.RefreshToken != "" {
		return s.refreshTTL
	}
	if sess.ExpiresAt.IsZero() {
		return s.refreshTTL
	}
	return sess.ExpiresAt.Sub(s.now())
}

// Save stores sess under key.
func (s *SessionStore) Save(ctx context.Context, key string, sess domainauth.Session) error {
	if key == "" {
		return errors.New("session key cannot be empty")
	}
	if sess.AccessToken == "" {
		return errors.New("session access token cannot be empty")
	}
	ttl := s.ttl(sess)
	if ttl <= 0 {
		return errors.New("session is expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

// Get returns the session stored under key or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, key string) (domainauth.Session, error) {
	if key == "" {
		return domainauth.Session{}, ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, ErrNotFound
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	// A session that can no longer be refreshed is dead once its access token expires.
	if sess.RefreshToken == "" && sess.Expired(s.now()) {
		if deleteErr := s.Delete(ctx, key); deleteErr != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", deleteErr)
		}
		return domainauth.Session{}, ErrNotFound
	}

	return sess, nil
}

// Delete removes the session stored under key.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}
