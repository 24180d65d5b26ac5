package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by store lookups for missing records.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when creating a record that already exists.
	ErrDuplicate = errors.New("already exists")

	// ErrPermanentConfig marks configuration errors that cannot be
	// retried. Startup fails fast on these.
	ErrPermanentConfig = errors.New("invalid configuration")
)

// transientError wraps I/O-class failures that are safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked
// retryable via Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Permanent wraps err as a configuration failure.
func Permanent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermanentConfig, fmt.Sprintf(format, args...))
}
