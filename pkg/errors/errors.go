package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Login verdicts. ErrInactiveLogin answers a login attempt against a
// deactivated account; ErrInactiveAccount answers requests from a
// session whose account was deactivated after the token was issued.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "incorrect username or password")
	ErrInactiveLogin      = New("INACTIVE_USER", http.StatusBadRequest, "inactive user")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
)

// Token verdicts, all 401 so clients treat them uniformly as "obtain a
// new session".
var (
	ErrTokenMalformed = New("TOKEN_MALFORMED", http.StatusUnauthorized, "invalid or malformed token")
	ErrTokenExpired   = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token has expired")
	ErrTokenRevoked   = New("TOKEN_REVOKED", http.StatusUnauthorized, "token has been revoked")
)

// Generic HTTP errors.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// ErrCacheMiss is a sentinel for cache lookups; it never reaches HTTP
// responses.
var ErrCacheMiss = New("CACHE_MISS", http.StatusNotFound, "cache miss")

// Error is a typed domain error that knows which HTTP status and
// machine-readable code it maps to. The wrapped cause stays out of the
// JSON body and surfaces only in logs.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates an Error with no wrapped cause.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches a code, status and message to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Internal wraps an unexpected failure as a 500. The message describes
// the operation that failed; the cause carries the detail.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}

// Validation wraps a binding or validation failure as a 400.
func Validation(err error, message string) *Error {
	return Wrap(err, ErrValidation.Code, ErrValidation.Status, message)
}

// FromError normalises any error into an *Error. Typed errors pass
// through; anything else becomes an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err, ErrInternal.Message)
}

// Clone copies a catalogue error so the message can be overridden
// without mutating the shared value. An empty message keeps the
// original.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
