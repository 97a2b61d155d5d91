package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobFailed    Stage = "JOB_FAILED"
	StageJobCancelled Stage = "JOB_CANCELLED"
	StageItemDone     Stage = "ITEM_DONE"
	StageItemFailed   Stage = "ITEM_FAILED"
	StageItemRequeued Stage = "ITEM_REQUEUED"
)

// Event captures a single job or item milestone.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// BusinessID scopes item events to one work item.
	BusinessID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Presence carries the decision for ITEM_DONE events.
	Presence verify.Presence
	// Confidence carries the score for ITEM_DONE events.
	Confidence float64
	// Dur captures execution latency for items and finished jobs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobFailed, StageJobCancelled:
	case StageItemDone, StageItemFailed, StageItemRequeued:
		if e.BusinessID == "" {
			return fmt.Errorf("%s requires a business id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobFailed || s == StageJobCancelled
}
