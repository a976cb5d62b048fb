package auth

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates AuthError values.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "invalid_input"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindUserExists         ErrorKind = "user_exists"
	KindWeakPassword       ErrorKind = "weak_password"
	KindNotAuthenticated   ErrorKind = "not_authenticated"
	KindRateLimited        ErrorKind = "rate_limited"
	KindSessionExpired     ErrorKind = "session_expired"
	KindUnavailable        ErrorKind = "unavailable"
	KindUnknown            ErrorKind = "unknown"
)

// AuthError is the single error shape returned by identity actions.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Cause }

// NewAuthError builds an AuthError without a cause.
func NewAuthError(kind ErrorKind, message string) *AuthError {
	return &AuthError{Kind: kind, Message: message}
}

// WrapAuthError wraps err as an AuthError of the given kind. Existing AuthErrors pass through.
func WrapAuthError(err error, kind ErrorKind, message string) error {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	return &AuthError{Kind: kind, Message: message, Cause: err}
}

// KindOf returns the AuthError kind carried by err, or "" if none.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err is an AuthError of kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
