package errors

import "errors"

// Sentinels shared across stores, the scheduler and the HTTP layer. The
// HTTP error handler maps each one to a status code.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
	ErrUnavailable   = errors.New("service unavailable")
	ErrQuotaExceeded = errors.New("quota exceeded")
)
