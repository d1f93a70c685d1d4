// Watchbridge - Media Server Watch State Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/watchbridge

package retry

import "errors"

// fatalError marks an error that retrying cannot fix.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// retryableError explicitly marks an error as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Fatal wraps err as non-retryable: invalid credentials, malformed requests,
// anything where another attempt only wastes the backoff budget and delays
// surfacing an actionable problem to the operator.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Retryable wraps err as explicitly transient. Unclassified errors are
// already treated as retryable; this exists to make classification visible at
// the call site.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsFatal reports whether err is marked non-retryable anywhere in its chain.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// IsRetryable reports whether err should be retried. Errors not marked fatal
// are retryable; network stacks produce too many transient error shapes to
// enumerate, so transient is the safe default.
func IsRetryable(err error) bool {
	return err != nil && !IsFatal(err)
}
