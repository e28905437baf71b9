package errors

import (
	"errors"
	"net/http"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalid            = errors.New("invalid")
	ErrConflict           = errors.New("conflict")
	ErrTooMany            = errors.New("too many requests")
	ErrInternal           = errors.New("internal")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCodeExpired        = errors.New("code expired")
	ErrCodeInvalid        = errors.New("code invalid")
	ErrCodeLocked         = errors.New("code locked")
	ErrMaxAttempts        = errors.New("max verification attempts reached")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RateLimitedError is returned when a rate-limit window is exhausted.
// Callers must not retry before ResetAt.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return "too many requests, retry after " + e.ResetAt.UTC().Format(time.RFC3339)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrTooMany
}

func (e *RateLimitedError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CodeLockedError reports a verification code pair locked until Until.
// Cause is ErrMaxAttempts when this call is the one that applied the lock.
type CodeLockedError struct {
	Until time.Time
	Cause error
}

func (e *CodeLockedError) Error() string {
	msg := "code locked until " + e.Until.UTC().Format(time.RFC3339)
	if e.Cause != nil {
		return e.Cause.Error() + ": " + msg
	}
	return msg
}

func (e *CodeLockedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrCodeLocked, e.Cause}
	}
	return []error{ErrCodeLocked}
}

// AuthzError carries an HTTP status hint for guard failures.
type AuthzError struct {
	Status int
}

func (e *AuthzError) Error() string {
	if e.Status == http.StatusForbidden {
		return "forbidden"
	}
	return "unauthorized"
}

func (e *AuthzError) Unwrap() error {
	if e.Status == http.StatusForbidden {
		return ErrForbidden
	}
	return ErrUnauthorized
}

func Unauthorized() error {
	return &AuthzError{Status: http.StatusUnauthorized}
}

func Forbidden() error {
	return &AuthzError{Status: http.StatusForbidden}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStorageFailure reports whether err came from the durable store rather
// than from a business rule. Not-found results are not storage failures.
func IsStorageFailure(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return true
	}
	var rl *RateLimitedError
	var cl *CodeLockedError
	var az *AuthzError
	switch {
	case errors.As(err, &rl), errors.As(err, &cl), errors.As(err, &az):
		return false
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrCodeInvalid),
		errors.Is(err, ErrCodeExpired):
		return false
	}
	return true
}
