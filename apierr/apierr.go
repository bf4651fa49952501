// Package apierr defines the error taxonomy shared by every endpoint. Each
// failure is a sentinel wrapped in *Error so callers use errors.Is for checks
// and the router derives the HTTP status class from the sentinel alone.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sentinel errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrMethodNotAllowed    = errors.New("method not allowed")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrMalformedRequest    = errors.New("malformed request")
	ErrUnprocessable       = errors.New("unprocessable entity")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenWrongAudience  = errors.New("token issued for another audience")
	ErrMissingToken        = errors.New("missing bearer token")
	ErrUnsafeUpdate        = errors.New("update without key fields")
	ErrUnsafeDelete        = errors.New("delete without key fields")
	ErrRateLimited         = errors.New("too many requests")
	ErrStorage             = errors.New("storage failure")
	ErrAmbiguousCredential = errors.New("ambiguous credential")
)

// statuses maps each sentinel to its HTTP status class. Only storage and
// credential integrity faults are server errors.
var statuses = map[error]int{
	ErrMethodNotAllowed:    http.StatusMethodNotAllowed,
	ErrInvalidParameter:    http.StatusUnprocessableEntity,
	ErrMalformedRequest:    http.StatusBadRequest,
	ErrUnprocessable:       http.StatusUnprocessableEntity,
	ErrConflict:            http.StatusConflict,
	ErrNotFound:            http.StatusNotFound,
	ErrUnauthenticated:     http.StatusUnauthorized,
	ErrInvalidToken:        http.StatusUnauthorized,
	ErrTokenExpired:        http.StatusUnauthorized,
	ErrTokenWrongAudience:  http.StatusUnauthorized,
	ErrMissingToken:        http.StatusUnauthorized,
	ErrUnsafeUpdate:        http.StatusBadRequest,
	ErrUnsafeDelete:        http.StatusBadRequest,
	ErrRateLimited:         http.StatusTooManyRequests,
	ErrStorage:             http.StatusInternalServerError,
	ErrAmbiguousCredential: http.StatusInternalServerError,
}

// ─────────────────────────────────────────────────────────────────────────────
// Error
// ─────────────────────────────────────────────────────────────────────────────

// Error pairs a sentinel with the message returned to the client and, for
// server faults, the underlying cause kept for logs.
type Error struct {
	Sentinel error
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Sentinel, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Sentinel, e.Message)
}

func (e *Error) Is(target error) bool { return errors.Is(e.Sentinel, target) }
func (e *Error) Unwrap() error        { return e.Cause }

// New returns an *Error for sentinel with a client-facing message.
func New(sentinel error, format string, args ...any) *Error {
	return &Error{Sentinel: sentinel, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error carrying cause. The message shown to clients never
// includes the cause text.
func Wrap(sentinel error, cause error, message string) *Error {
	return &Error{Sentinel: sentinel, Message: message, Cause: cause}
}

// ─────────────────────────────────────────────────────────────────────────────
// Constructors for the common cases
// ─────────────────────────────────────────────────────────────────────────────

func MethodNotAllowed(method string) *Error {
	return New(ErrMethodNotAllowed, "method %s is not allowed", method)
}

func InvalidParameter(key string) *Error {
	return New(ErrInvalidParameter, "Invalid parameter: %s", key)
}

func Unprocessable(format string, args ...any) *Error {
	return New(ErrUnprocessable, format, args...)
}

func Storage(cause error) *Error {
	return Wrap(ErrStorage, cause, "storage failure, please try again later")
}

// ─────────────────────────────────────────────────────────────────────────────
// Classification helpers
// ─────────────────────────────────────────────────────────────────────────────

// Status returns the HTTP status for err. Unclassified errors are treated as
// server faults.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		for sentinel, code := range statuses {
			if errors.Is(e.Sentinel, sentinel) {
				return code
			}
		}
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing message for err. Unclassified errors get
// a generic text so internals never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

// IsServerFault reports whether err belongs to the 5xx class.
func IsServerFault(err error) bool { return Status(err) >= http.StatusInternalServerError }

func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool        { return errors.Is(err, ErrConflict) }
func IsUnprocessable(err error) bool   { return errors.Is(err, ErrUnprocessable) }
func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }
