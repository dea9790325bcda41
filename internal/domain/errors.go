package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services return *Error values whose Kind is one of these so handlers can map
// to HTTP status codes without leaking infrastructure details.
var (
	ErrValidation      = errors.New("validation failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionInvalid  = errors.New("session invalid")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyVerified = errors.New("already verified")
	ErrIncorrectCode   = errors.New("incorrect code")
	ErrDelivery        = errors.New("delivery failed")
	ErrInternal        = errors.New("internal error")
)

// ErrRefreshTokenMismatch is returned by the Credential Store when a
// conditional rotation finds a different stored refresh token.
var ErrRefreshTokenMismatch = errors.New("refresh token mismatch")

// Error is the structured error every service returns for known failures.
type Error struct {
	Kind              error
	Message           string
	WaitMinutes       int
	RemainingAttempts int
	Fields            map[string]string
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool { return e.Kind == target }

func (e *Error) Unwrap() error { return e.Err }

// Code is the stable machine-readable name of the error kind.
func (e *Error) Code() string {
	switch e.Kind {
	case ErrValidation:
		return "validation_error"
	case ErrRateLimited:
		return "rate_limited"
	case ErrUnauthenticated:
		return "unauthenticated"
	case ErrSessionExpired:
		return "session_expired"
	case ErrSessionInvalid:
		return "session_invalid"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrAlreadyVerified:
		return "already_verified"
	case ErrIncorrectCode:
		return "incorrect_code"
	case ErrDelivery:
		return "delivery_failed"
	default:
		return "internal"
	}
}

func newError(kind error, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: ErrValidation, Message: msg, Fields: fields}
}

func RateLimited(msg string, waitMinutes int) *Error {
	return &Error{Kind: ErrRateLimited, Message: msg, WaitMinutes: waitMinutes}
}

func Incorrect(remaining int) *Error {
	return &Error{Kind: ErrIncorrectCode, Message: "incorrect verification code", RemainingAttempts: remaining}
}

func Unauthenticated(msg string) *Error { return newError(ErrUnauthenticated, msg) }
func SessionExpired(msg string) *Error  { return newError(ErrSessionExpired, msg) }
func SessionInvalid(msg string) *Error  { return newError(ErrSessionInvalid, msg) }
func NotFound(msg string) *Error        { return newError(ErrNotFound, msg) }
func Conflict(msg string) *Error        { return newError(ErrConflict, msg) }
func AlreadyVerified(msg string) *Error { return newError(ErrAlreadyVerified, msg) }

func Delivery(msg string, err error) *Error {
	return &Error{Kind: ErrDelivery, Message: msg, Err: err}
}

// Internal wraps an unexpected failure. The message never reaches clients.
func Internal(msg string, err error) *Error {
	return &Error{Kind: ErrInternal, Message: msg, Err: err}
}

// AsError extracts the *Error from err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
