package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// BaseURL is the public URL of the portal (e.g., "https://portal.example.com").
	// Password-reset links redirect here.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.BaseURL = strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	if h.ReadTimeout <= 0 {
		h.ReadTimeout = 30 * time.Second
	}
	if h.WriteTimeout <= 0 {
		h.WriteTimeout = 30 * time.Second
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}

// PortalAPIConfig configures the portal API client used by the operator CLI.
type PortalAPIConfig struct {
	// BaseURL defaults to APP_BASE_URL.
	BaseURL       string        `env:"PORTAL_API_URL"`
	Timeout       time.Duration `env:"PORTAL_API_TIMEOUT"        envDefault:"30s"`
	BeaconTimeout time.Duration `env:"PORTAL_API_BEACON_TIMEOUT" envDefault:"5s"`
}

// Sanitize fills the base URL from the server config and clamps timeouts.
func (p *PortalAPIConfig) Sanitize(httpCfg HTTPConfig) {
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if p.BaseURL == "" {
		p.BaseURL = httpCfg.BaseURL
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.BeaconTimeout <= 0 {
		p.BeaconTimeout = 5 * time.Second
	}
}
