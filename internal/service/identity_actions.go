package service

import (
	"context"
	"errors"
	"strings"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
	apperrors "github.com/target/portal-api/internal/errors"
	"github.com/target/portal-api/internal/ports"
)

const minPasswordLength = 6

// signInSuperseded is logged as the outcome of a sign-in whose identity was replaced or
// signed out before its profile resolved. The caller still gets nil.
const signInSuperseded = "superseded"

// SignIn authenticates with email and password, resolves the profile (repairing it once
// if needed) and navigates by role. Session store failures are returned unchanged and
// leave the snapshot as it was; profile and navigation failures are only logged.
func (m *IdentityManager) SignIn(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domainauth.NewAuthError(domainauth.KindInvalidInput, "email and password are required")
	}
	if m.closed() {
		return domainauth.NewAuthError(domainauth.KindUnavailable, "identity manager is closed")
	}

	res, err := m.sessions.SignInWithPassword(ctx, email, password)
	if err != nil {
		return domainauth.WrapAuthError(err, domainauth.KindUnknown, "sign in failed")
	}
	sess := res.Session
	if sess.User.ID == "" {
		sess.User = res.User
	}
	userID := sess.User.ID
	if userID == "" {
		return domainauth.NewAuthError(domainauth.KindUnknown, "sign in returned no user")
	}

	epoch, _, ok := m.setIdentity(sess)
	if !ok {
		return domainauth.NewAuthError(domainauth.KindUnavailable, "identity manager is closed")
	}

	profile := m.fetchProfile(ctx, userID)
	if m.needsRepair(sess.User, profile) {
		if repaired := m.repairProfile(ctx, sess.User); repaired {
			// A lookup already in flight may have read the row before the repair committed.
			m.fetches.Forget(userID)
			if again := m.fetchProfile(ctx, userID); again != nil {
				profile = again
			}
		}
	}

	if !m.applyProfile(epoch, userID, profile, false) {
		m.logger.WarnContext(ctx, "sign in superseded by a later auth change",
			"user_id", userID, "outcome", signInSuperseded, "redirect", m.cfg.Paths.Login)
		m.navigate(ctx, m.cfg.Paths.Login)
		return nil
	}
	m.navigate(ctx, domainauth.RedirectPath(profile, m.cfg.Paths))
	return nil
}

// needsRepair reports whether the profile must be created or corrected after sign-in.
func (m *IdentityManager) needsRepair(user domainauth.User, p *domainauth.Profile) bool {
	if m.repairer == nil {
		return false
	}
	if p == nil {
		return true
	}
	return m.cfg.Rescue.Matches(user.Email) && p.Role != domainauth.RoleAdmin
}

// repairProfile calls the privileged repair operation once. It reports whether the call succeeded.
func (m *IdentityManager) repairProfile(ctx context.Context, user domainauth.User) bool {
	role := domainauth.RoleUser
	if m.cfg.Rescue.Matches(user.Email) {
		role = domainauth.RoleAdmin
	}
	req := domainauth.FixProfileRequest{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName(),
		Role:     role,
	}
	msg, err := m.repairer.FixProfile(ctx, req)
	if err != nil {
		m.logger.WarnContext(ctx, "profile repair failed", "user_id", user.ID, "error", err)
		return false
	}
	m.logger.InfoContext(ctx, "profile repaired", "user_id", user.ID, "role", role, "message", msg)
	return true
}

// SignUp registers a new identity with fullName as signup metadata, then creates its
// profile row. Profile creation is retried a bounded number of times and its failure
// is logged, not returned.
func (m *IdentityManager) SignUp(ctx context.Context, email, password, fullName string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domainauth.NewAuthError(domainauth.KindInvalidInput, "email and password are required")
	}
	if len(password) < minPasswordLength {
		return domainauth.NewAuthError(domainauth.KindWeakPassword, "password must be at least 6 characters")
	}

	fullName = strings.TrimSpace(fullName)
	user, err := m.sessions.SignUp(ctx, ports.SignUpInput{
		Email:    email,
		Password: password,
		Metadata: map[string]any{"full_name": fullName},
	})
	if err != nil {
		return domainauth.WrapAuthError(err, domainauth.KindUnknown, "sign up failed")
	}
	if user.ID == "" {
		m.logger.WarnContext(ctx, "sign up returned no user id, skipping profile insert", "email", email)
		return nil
	}

	np := domainauth.NewProfile{
		ID:       user.ID,
		Email:    email,
		FullName: fullName,
		Role:     domainauth.RoleUser,
		IsActive: true,
	}
	if err := m.insertProfile(ctx, np); err != nil {
		m.logger.ErrorContext(ctx, "create profile after sign up", "user_id", user.ID, "error", err)
	}
	return nil
}

func (m *IdentityManager) insertProfile(ctx context.Context, np domainauth.NewProfile) error {
	var errs []error
	for attempt := 1; attempt <= m.cfg.ProfileInsertTries; attempt++ {
		err := m.profiles.InsertProfile(ctx, np)
		if err == nil || apperrors.IsConflict(err) {
			return nil
		}
		errs = append(errs, err)
		if attempt == m.cfg.ProfileInsertTries {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		case <-time.After(m.cfg.ProfileInsertDelay):
		}
	}
	return errors.Join(errs...)
}

// SignOut stops presence reporting, reports offline (best effort), invalidates the
// session, clears the snapshot and navigates to the login path. Local state is cleared
// even when the session store fails; that failure is returned.
func (m *IdentityManager) SignOut(ctx context.Context) error {
	m.heartbeat.stop()
	if m.presence != nil && m.Snapshot().Authenticated() {
		if err := m.presence.SetPresence(ctx, false); err != nil {
			m.logger.WarnContext(ctx, "offline presence report failed", "error", err)
		}
	}

	err := m.sessions.SignOut(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "session store sign out failed", "error", err)
		err = domainauth.WrapAuthError(err, domainauth.KindUnknown, "sign out failed")
	}
	m.clearIdentity()
	m.navigate(ctx, m.cfg.Paths.Login)
	return err
}

// ResetPassword requests a reset email whose link lands on the reset-password page.
func (m *IdentityManager) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return domainauth.NewAuthError(domainauth.KindInvalidInput, "email is required")
	}
	redirect := strings.TrimRight(m.cfg.BaseURL, "/") + m.cfg.Paths.ResetPassword
	err := m.sessions.ResetPasswordForEmail(ctx, email, redirect)
	return domainauth.WrapAuthError(err, domainauth.KindUnknown, "reset password failed")
}

// UpdatePassword changes the credential of the current session.
func (m *IdentityManager) UpdatePassword(ctx context.Context, newPassword string) error {
	if newPassword == "" {
		return domainauth.NewAuthError(domainauth.KindInvalidInput, "password is required")
	}
	err := m.sessions.UpdatePassword(ctx, newPassword)
	return domainauth.WrapAuthError(err, domainauth.KindUnknown, "update password failed")
}

// navigate commits the session when the store supports it, then hands path to the navigator.
func (m *IdentityManager) navigate(ctx context.Context, path string) {
	if c, ok := m.sessions.(ports.SessionCommitter); ok {
		if err := c.CommitSession(ctx); err != nil {
			m.logger.WarnContext(ctx, "commit session before navigation", "error", err)
		}
	}
	if m.navigator == nil {
		return
	}
	if err := m.navigator.Navigate(ctx, path); err != nil {
		m.logger.WarnContext(ctx, "navigation failed", "path", path, "error", err)
	}
}
