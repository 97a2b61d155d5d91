package verify

import "fmt"

// legalTransitions enumerates the job state machine:
// pending -> running -> {completed | failed | cancelled}, plus
// failed -> pending for retries of jobs whose failure was retryable.
var legalTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning},
	JobRunning: {JobCompleted, JobFailed, JobCancelled},
	JobFailed:  {JobPending},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to JobStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is illegal.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Terminal reports whether the status ends a job run. Terminal jobs are never
// reopened; a retry mints a new job sharing lineage.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}
