package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Collaborator failures split into two classes. Transient failures (timeouts,
// rate limits, flaky transport) are retried with backoff up to the attempt
// cap. Permanent failures (malformed input, empty selection, violated
// preconditions) fail the attempt immediately.

// TransientError marks a collaborator failure as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps an error as retryable. Nil-safe.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf wraps a formatted error as retryable.
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Permanent wraps an error as non-retryable. Nil-safe.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf wraps a formatted error as non-retryable.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be retried. Context cancellation is
// never transient: a cancelled stage must fail, not spin. Deadline overruns
// of the per-call timeout surface as transient timeouts. Unclassified errors
// default to transient, matching how unknown collaborator faults (network
// resets, 5xx) usually behave.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var trans *TransientError
	if errors.As(err, &trans) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return true
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}
