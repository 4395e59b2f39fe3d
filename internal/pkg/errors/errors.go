package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"taskflow/internal/pkg/logger"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeInvalidRole       = "INVALID_ROLE"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeTokenInvalid      = "TOKEN_INVALID"
	ErrCodeTokenUsed         = "TOKEN_USED"
	ErrCodeTokenExpired      = "TOKEN_EXPIRED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Error is a typed domain failure carrying the HTTP status it maps to.
// Message is part of the observable contract for guard and quota failures.
type Error struct {
	Status  int
	Code    string
	Message string
	// Label names the quota bucket for QUOTA_EXCEEDED errors.
	Label string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on Code, and on Message when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Category sentinels, matched by code only.
var (
	ErrForbidden     = &Error{Status: http.StatusForbidden, Code: ErrCodeForbidden}
	ErrNotFound      = &Error{Status: http.StatusNotFound, Code: ErrCodeNotFound}
	ErrConflict      = &Error{Status: http.StatusConflict, Code: ErrCodeConflict}
	ErrInvalidInput  = &Error{Status: http.StatusBadRequest, Code: ErrCodeInvalidInput}
	ErrQuotaExceeded = &Error{Status: http.StatusForbidden, Code: ErrCodeQuotaExceeded}
	ErrUnauthorized  = &Error{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized}
)

// Exact sentinels.
var (
	ErrInvalidCredentials = &Error{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: "Invalid credentials"}
	ErrInvalidToken       = &Error{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: "Invalid token"}
	ErrInvalidUser        = &Error{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: "Invalid user"}
	ErrInvalidRole        = &Error{Status: http.StatusBadRequest, Code: ErrCodeInvalidRole, Message: "Invalid role"}

	ErrWorkflowTokenInvalid = &Error{Status: http.StatusBadRequest, Code: ErrCodeTokenInvalid, Message: "Invalid token"}
	ErrTokenUsed            = &Error{Status: http.StatusBadRequest, Code: ErrCodeTokenUsed, Message: "Token already used"}
	ErrTokenExpired         = &Error{Status: http.StatusBadRequest, Code: ErrCodeTokenExpired, Message: "Token expired"}
)

func Forbidden(reason string) *Error {
	return &Error{Status: http.StatusForbidden, Code: ErrCodeForbidden, Message: reason}
}

// QuotaExceeded reports a full quota bucket, e.g. QuotaExceeded("Manager")
// yields "Manager quota reached".
func QuotaExceeded(label string) *Error {
	return &Error{Status: http.StatusForbidden, Code: ErrCodeQuotaExceeded, Message: label + " quota reached", Label: label}
}

func Conflict(msg string) *Error {
	return &Error{Status: http.StatusConflict, Code: ErrCodeConflict, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: msg}
}

func InvalidInput(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: ErrCodeInvalidInput, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: ErrCodeUnauthorized, Message: msg}
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }

// Reason returns the contract message of a typed error, or "" for anything else.
func Reason(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return ""
}

func IsQuotaExceeded(err error) bool {
	return stderrors.Is(err, ErrQuotaExceeded)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// Write renders err as the JSON envelope. Untyped errors are logged with the
// request's logger and reported as a generic internal error.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if stderrors.As(err, &e) {
		var details interface{}
		if e.Label != "" {
			details = map[string]string{"resource": e.Label}
		}
		WriteError(w, e.Status, e.Code, e.Message, details)
		return
	}

	logger.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, "Internal server error", nil)
}
