package gotrue

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	domainauth "github.com/target/portal-api/internal/domain/auth"
)

// APIError is the raw error reported by the auth server. It is carried as the cause
// of the AuthError returned to callers.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth api %d: %s", e.Status, e.Message)
}

// errorBody covers both error shapes GoTrue has used:
// {"error","error_description"} and {"code","error_code","msg"}.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	ErrorCode   string `json:"error_code"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
}

func parseAPIError(status int, body []byte) *APIError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	return &APIError{
		Status:  status,
		Code:    firstNonEmpty(eb.ErrorCode, eb.Error),
		Message: firstNonEmpty(eb.Msg, eb.Description, eb.Message, http.StatusText(status)),
	}
}

func mapError(op string, status int, body []byte) error {
	apiErr := parseAPIError(status, body)
	return &domainauth.AuthError{Kind: classify(op, apiErr), Message: apiErr.Message, Cause: apiErr}
}

func classify(op string, e *APIError) domainauth.ErrorKind {
	code := strings.ToLower(e.Code)
	msg := strings.ToLower(e.Message)
	switch {
	case e.Status == http.StatusTooManyRequests || strings.HasPrefix(code, "over_"):
		return domainauth.KindRateLimited
	case code == "weak_password":
		return domainauth.KindWeakPassword
	case code == "user_already_exists" || code == "email_exists" || strings.Contains(msg, "already registered"):
		return domainauth.KindUserExists
	case code == "invalid_credentials":
		return domainauth.KindInvalidCredentials
	case code == "invalid_grant":
		if op == opRefresh {
			return domainauth.KindSessionExpired
		}
		return domainauth.KindInvalidCredentials
	case code == "refresh_token_not_found", code == "refresh_token_already_used",
		code == "session_not_found", code == "session_expired", code == "bad_jwt":
		return domainauth.KindSessionExpired
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return domainauth.KindNotAuthenticated
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return domainauth.KindInvalidInput
	case e.Status >= http.StatusInternalServerError:
		return domainauth.KindUnavailable
	default:
		return domainauth.KindUnknown
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
