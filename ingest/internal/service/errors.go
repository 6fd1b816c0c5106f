package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest: malformed input, nothing was changed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound: the referenced record does not exist or is not open.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAction: unknown or inapplicable resolution action.
	ErrInvalidAction = errors.New("invalid action")
	// ErrValidationFailed: the replayed event failed re-validation.
	ErrValidationFailed = errors.New("validation failed")
	// ErrTransient: the caller should retry later.
	ErrTransient = errors.New("temporarily unavailable")
	// ErrInvariant: stored state contradicts a ledger invariant.
	ErrInvariant = errors.New("invariant violation")
)

// TransientError is returned when an operation gave up on a retryable
// storage failure. It matches ErrTransient and the underlying cause.
type TransientError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrTransient, e.Err)
}

func (e *TransientError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// RetryAfter returns the back-off hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

func invalidRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func invariant(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
