package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups for an unknown session ID.
var ErrNotFound = errors.New("session not found")

// ErrUnavailable marks a storage failure the caller may retry.
var ErrUnavailable = errors.New("backend unavailable")

// UnavailableError wraps the underlying storage error.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: backend unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) hold for every UnavailableError.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unavailable wraps err as a retryable storage failure.
func Unavailable(op string, err error) error {
	return &UnavailableError{Op: op, Err: err}
}

// IsRetryable reports whether err signals a transient backend failure.
// Caller cancellation is not retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}
