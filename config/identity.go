package config

import (
	"strings"
	"time"
)

// IdentityConfig controls the identity session manager.
type IdentityConfig struct {
	// ProfileFetchTimeout bounds every profile lookup.
	ProfileFetchTimeout time.Duration `env:"IDENTITY_PROFILE_FETCH_TIMEOUT" envDefault:"15s"`

	// BootstrapTimeout is the safety valve that ends the initial loading state.
	BootstrapTimeout time.Duration `env:"IDENTITY_BOOTSTRAP_TIMEOUT" envDefault:"20s"`

	// HeartbeatInterval spaces presence heartbeats while visible.
	HeartbeatInterval time.Duration `env:"IDENTITY_HEARTBEAT_INTERVAL" envDefault:"60s"`

	// ProfileInsertTries bounds profile creation attempts after sign-up.
	ProfileInsertTries int           `env:"IDENTITY_PROFILE_INSERT_TRIES" envDefault:"3"`
	ProfileInsertDelay time.Duration `env:"IDENTITY_PROFILE_INSERT_DELAY" envDefault:"500ms"`

	// RescueAdminEmails are accounts whose profile is repaired to admin on sign-in.
	// Empty disables rescue.
	RescueAdminEmails []string `env:"IDENTITY_RESCUE_ADMIN_EMAILS" envSeparator:","`

	LoginPath           string `env:"IDENTITY_LOGIN_PATH"            envDefault:"/auth/login"`
	AdminDashboardPath  string `env:"IDENTITY_ADMIN_DASHBOARD_PATH"  envDefault:"/admin/dashboard"`
	ClientDashboardPath string `env:"IDENTITY_CLIENT_DASHBOARD_PATH" envDefault:"/client/dashboard"`
	ResetPasswordPath   string `env:"IDENTITY_RESET_PASSWORD_PATH"   envDefault:"/auth/reset-password"`
}

const (
	minHeartbeatInterval = 5 * time.Second
	maxProfileInsertTry  = 10
)

// Sanitize applies guardrails to identity configuration values.
func (c *IdentityConfig) Sanitize() {
	if c.ProfileFetchTimeout <= 0 {
		c.ProfileFetchTimeout = 15 * time.Second
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = 20 * time.Second
	}
	if c.HeartbeatInterval < minHeartbeatInterval {
		c.HeartbeatInterval = minHeartbeatInterval
	}
	if c.ProfileInsertTries < 1 {
		c.ProfileInsertTries = 1
	}
	if c.ProfileInsertTries > maxProfileInsertTry {
		c.ProfileInsertTries = maxProfileInsertTry
	}
	if c.ProfileInsertDelay < 0 {
		c.ProfileInsertDelay = 0
	}

	emails := make([]string, 0, len(c.RescueAdminEmails))
	for _, e := range c.RescueAdminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			emails = append(emails, e)
		}
	}
	c.RescueAdminEmails = emails
}

// PresenceConfig controls how often heartbeats are written to the profile store.
type PresenceConfig struct {
	// ThrottleWindow coalesces heartbeats per user; 0 writes every heartbeat.
	ThrottleWindow time.Duration `env:"PRESENCE_THROTTLE_WINDOW" envDefault:"15s"`
}

// Sanitize applies guardrails to presence configuration values.
func (c *PresenceConfig) Sanitize() {
	if c.ThrottleWindow < 0 {
		c.ThrottleWindow = 0
	}
}
