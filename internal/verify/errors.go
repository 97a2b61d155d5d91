package verify

import "errors"

// Sentinel errors crossing the core's boundary. Signal-level failures never
// surface here; they are folded into scoring.
var (
	// ErrNotFound indicates a job or business identifier is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition rejects an illegal job state change. The job's
	// state is left untouched.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrNotCancellable is returned when cancelling a job that is not running.
	ErrNotCancellable = errors.New("job is not cancellable")

	// ErrNotRetryable is returned when retrying a job that did not fail with
	// a retryable cause.
	ErrNotRetryable = errors.New("job is not retryable")

	// ErrMalformedScope marks bad input that makes a job unrunnable. Jobs
	// failed with this cause are not retryable.
	ErrMalformedScope = errors.New("malformed job scope")
)
