// Package gotrue adapts the hosted GoTrue auth API to ports.SessionStore.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	domainauth "github.com/target/portal-api/internal/domain/auth"
	"github.com/target/portal-api/internal/ports"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

var (
	_ ports.SessionStore     = (*Client)(nil)
	_ ports.SessionCommitter = (*Client)(nil)
)

const (
	defaultStorageKey    = "default"
	defaultRefreshMargin = 60 * time.Second
	defaultRetryInterval = 10 * time.Second
	maxResponseBytes     = 1 << 20
)

// Config holds configuration for the GoTrue client.
type Config struct {
	// BaseURL is the auth API root, e.g. https://project.example.com/auth/v1.
	BaseURL string
	// APIKey is the project's public (anon) key.
	APIKey     string
	HTTPClient *http.Client // Optional, defaults to a client with a 30s timeout
	// Persistence stores the session between runs. Optional.
	Persistence ports.SessionPersistence
	StorageKey  string
	// RefreshMargin is how long before expiry the access token is refreshed.
	RefreshMargin time.Duration
	// RetryInterval spaces background refresh attempts after a transient failure.
	RetryInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

// Client implements ports.SessionStore against a GoTrue server. It owns the current
// session, refreshes it in the background and broadcasts auth-change events.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	http       *http.Client
	store      ports.SessionPersistence
	storageKey string
	margin     time.Duration
	retry      time.Duration
	logger     *slog.Logger
	now        func() time.Time

	bus     EventBus.Bus
	subMu   sync.Mutex
	topics  map[string]struct{}
	nextSub uint64

	refreshes singleflight.Group

	mu      sync.Mutex
	session *domainauth.Session
	loaded  bool
	tokens  oauth2.TokenSource

	ctx       context.Context
	cancel    context.CancelFunc
	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Client and starts its background refresh loop. Call Close to stop it.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("auth base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("auth API key is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth base URL: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaultStorageKey
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		http:       cfg.HTTPClient,
		store:      cfg.Persistence,
		storageKey: cfg.StorageKey,
		margin:     cfg.RefreshMargin,
		retry:      cfg.RetryInterval,
		logger:     cfg.Logger.With("component", "gotrue"),
		now:        cfg.Now,
		bus:        EventBus.New(),
		topics:     make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

// Close stops background refresh and waits for queued event deliveries.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.bus.WaitAsync()
	})
	return nil
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	bearer string
}

const (
	opPassword = "password"
	opRefresh  = "refresh"
	opSignUp   = "signup"
	opLogout   = "logout"
	opRecover  = "recover"
	opUser     = "user"
)

func (c *Client) do(ctx context.Context, req request, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + req.path
	u.RawQuery = req.query.Encode()

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return &domainauth.AuthError{Kind: domainauth.KindInvalidInput, Message: "encode auth request", Cause: err}
		}
		body = bytes.NewReader(b)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return &domainauth.AuthError{Kind: domainauth.KindUnknown, Message: "build auth request", Cause: err}
	}
	bearer := req.bearer
	if bearer == "" {
		bearer = c.apiKey
	}
	hr.Header.Set("apikey", c.apiKey)
	hr.Header.Set("Authorization", "Bearer "+bearer)
	hr.Header.Set("Accept", "application/json")
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return &domainauth.AuthError{Kind: domainauth.KindUnavailable, Message: "auth service unreachable", Cause: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close auth response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domainauth.AuthError{Kind: domainauth.KindUnavailable, Message: "read auth response", Cause: err}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return mapError(req.op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domainauth.AuthError{Kind: domainauth.KindUnknown, Message: "decode auth response", Cause: err}
	}
	return nil
}
