// Package errs holds the error taxonomy shared by the vault, proxy pool,
// session pool and scheduler.
//
// Callers wrap one of the sentinels with fmt.Errorf("...: %w", ...) and
// boundaries (HTTP, scheduler retry loop) classify with errors.Is.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrInsufficientAccounts = errors.New("insufficient idle accounts")
	ErrDuplicateProxy       = errors.New("duplicate proxy")
	ErrInvalidFormat        = errors.New("invalid proxy format")
	ErrCapacityExceeded     = errors.New("session capacity exceeded")
	ErrTransientNetwork     = errors.New("transient network error")
	ErrFatalSession         = errors.New("fatal session error")
	ErrNotFound             = errors.New("not found")
)

// Validation returns an ErrValidation wrapping a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether the caller may retry err after a backoff.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrTransientNetwork) ||
		errors.Is(err, ErrFatalSession)
}

// HTTPStatus maps err onto a response code for the command surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateProxy), errors.Is(err, ErrInsufficientAccounts):
		return http.StatusConflict
	case errors.Is(err, ErrCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTransientNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
