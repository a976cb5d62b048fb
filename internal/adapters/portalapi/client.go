// Package portalapi is the HTTP client for the portal API's profile and presence endpoints.
package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
	"github.com/target/portal-api/internal/ports"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"
)

var (
	_ ports.ProfileStore     = (*Client)(nil)
	_ ports.ProfileRepairer  = (*Client)(nil)
	_ ports.PresenceReporter = (*Client)(nil)
	_ ports.BeaconSender     = (*Client)(nil)
)

// Portal API routes.
const (
	PathHeartbeat    = "/api/auth/heartbeat"
	PathPresence     = "/api/auth/presence"
	PathFixProfile   = "/api/auth/fix-profile"
	PathProfiles     = "/api/profiles"
	PathAdminClients = "/api/admin/clients"

	// AccessTokenCookie carries the access token on requests that cannot set headers.
	AccessTokenCookie = "access_token"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultBeaconTimeout = 5 * time.Second
	maxResponseBytes     = 1 << 20
)

// Config holds configuration for the portal API client.
type Config struct {
	BaseURL string
	// TokenSource yields the current user's access token for every request.
	TokenSource oauth2.TokenSource
	// Transport is the base round tripper. Optional, defaults to http.DefaultTransport.
	Transport     http.RoundTripper
	Timeout       time.Duration
	BeaconTimeout time.Duration
	Logger        *slog.Logger
}

// Client calls the portal API on behalf of the signed-in user.
type Client struct {
	base          *url.URL
	http          *http.Client
	beacon        *http.Client
	jar           http.CookieJar
	beaconTimeout time.Duration
	logger        *slog.Logger
	inflight      sync.WaitGroup
}

// New creates a portal API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("portal API base URL is required")
	}
	if cfg.TokenSource == nil {
		return nil, errors.New("token source is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse portal API base URL: %w", err)
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BeaconTimeout <= 0 {
		cfg.BeaconTimeout = defaultBeaconTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		base:          base,
		jar:           jar,
		beaconTimeout: cfg.BeaconTimeout,
		logger:        cfg.Logger.With("component", "portalapi"),
	}
	c.http = &http.Client{
		Timeout: cfg.Timeout,
		Jar:     jar,
		Transport: &oauth2.Transport{
			Source: cookieSource{src: cfg.TokenSource, jar: jar, u: base},
			Base:   cfg.Transport,
		},
	}
	c.beacon = &http.Client{Timeout: cfg.BeaconTimeout, Jar: jar, Transport: cfg.Transport}
	return c, nil
}

// Close waits for in-flight beacons to finish.
func (c *Client) Close() error {
	c.inflight.Wait()
	return nil
}

func (c *Client) endpoint(path string, query url.Values) *url.URL {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return &u
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var te *tokenError
		if errors.As(err, &te) {
			return apperrors.Wrap(te.err, apperrors.ErrCodeUnauthorized, "not signed in")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "portal API timed out")
		}
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps a portal API error response onto the application error codes.
func statusError(status int, body []byte) error {
	var eb struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &eb)
	msg := eb.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.Validation(msg)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case http.StatusNotFound:
		return apperrors.NotFound(msg)
	case http.StatusConflict:
		return apperrors.Conflict(msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &apperrors.AppError{Code: apperrors.ErrCodeTimeout, Message: msg}
	default:
		return apperrors.Wrapf(fmt.Errorf("status %d", status), apperrors.ErrCodeInternal, "portal API: %s", msg)
	}
}

// GetProfile returns the profile with exactly id.
func (c *Client) GetProfile(ctx context.Context, id string) (*domainauth.Profile, error) {
	var p domainauth.Profile
	if err := c.do(ctx, http.MethodGet, c.endpoint(PathProfiles+"/"+url.PathEscape(id), nil), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertProfile creates a profile row. An existing row yields a Conflict error.
func (c *Client) InsertProfile(ctx context.Context, np domainauth.NewProfile) error {
	return c.do(ctx, http.MethodPost, c.endpoint(PathProfiles, nil), np, nil)
}

// FixProfileResponse is the body returned by the repair endpoint.
type FixProfileResponse struct {
	Message string              `json:"message"`
	Profile *domainauth.Profile `json:"profile,omitempty"`
}

// FixProfile calls the privileged create-or-correct endpoint and returns its message.
func (c *Client) FixProfile(ctx context.Context, req domainauth.FixProfileRequest) (string, error) {
	var resp FixProfileResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(PathFixProfile, nil), req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ClientsResponse is the body returned by the admin clients listing.
type ClientsResponse struct {
	Clients []*domainauth.Profile `json:"clients"`
}

// ListClients returns active client profiles, optionally filtered by search. Admin only.
func (c *Client) ListClients(ctx context.Context, search string) ([]*domainauth.Profile, error) {
	q := url.Values{}
	if s := strings.TrimSpace(search); s != "" {
		q.Set("search", s)
	}
	var resp ClientsResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint(PathAdminClients, q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}
