package service

import "strings"

// RescuePolicy lists the accounts that are always repaired to the admin role.
// The zero value matches nothing.
type RescuePolicy struct {
	emails map[string]struct{}
}

// NewRescuePolicy builds a policy from a list of email addresses. Blank entries are ignored.
func NewRescuePolicy(emails []string) RescuePolicy {
	p := RescuePolicy{emails: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		e = normalizeEmail(e)
		if e == "" {
			continue
		}
		p.emails[e] = struct{}{}
	}
	return p
}

// Matches reports whether email is a rescue account. Comparison is case-insensitive.
func (p RescuePolicy) Matches(email string) bool {
	if len(p.emails) == 0 {
		return false
	}
	_, ok := p.emails[normalizeEmail(email)]
	return ok
}

// Enabled reports whether any rescue account is configured.
func (p RescuePolicy) Enabled() bool { return len(p.emails) > 0 }

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
