// Package httpx provides the HTTP handlers, middleware and routing of the portal API.
package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/target/portal-api/internal/errors"
)

const maxBodyBytes = 64 << 10

var errInternal = errors.New("internal server error")

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	Field   string
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, errorResponse{Error: p.ErrCode, Message: p.Err.Error(), Field: p.Field})
}

// WriteServiceError maps an application error onto its HTTP status. Errors without an
// application code are reported as fallback with status 500 and a generic message.
func WriteServiceError(w http.ResponseWriter, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		status, code = http.StatusBadRequest, "validation_failed"
	case apperrors.ErrCodeNotFound:
		status, code = http.StatusNotFound, "not_found"
	case apperrors.ErrCodeConflict:
		status, code = http.StatusConflict, "conflict"
	case apperrors.ErrCodeUnauthorized:
		status, code = http.StatusUnauthorized, "authentication_required"
	case apperrors.ErrCodeForbidden:
		status, code = http.StatusForbidden, "insufficient_permissions"
	case apperrors.ErrCodeTimeout:
		status, code = http.StatusGatewayTimeout, "timeout"
	}
	if status == http.StatusInternalServerError {
		WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: errInternal})
		return
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: publicError{err}, Field: apperrors.GetField(err)})
}

// publicError exposes only the application message, not wrapped causes.
type publicError struct {
	err error
}

func (e publicError) Error() string {
	var appErr *apperrors.AppError
	if errors.As(e.err, &appErr) {
		return appErr.Message
	}
	return e.err.Error()
}
