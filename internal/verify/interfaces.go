package verify

import (
	"context"
	"time"
)

// TransitionChange carries the mutable fields applied alongside a status
// change. CanRetry is only meaningful on transitions into JobFailed.
type TransitionChange struct {
	ErrorText string
	CanRetry  bool
}

// Store is the narrow persistence contract the core depends on. Progress
// counters are monotonically non-decreasing within a run; status, counters
// and timestamps are the only mutable job fields.
type Store interface {
	// CreateJob persists a pending job together with its fixed item
	// snapshot. Crawl jobs pass a nil item set; their items materialize at
	// discovery time.
	CreateJob(ctx context.Context, job Job, itemIDs []string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ClaimNextPending atomically moves exactly one pending job to running
	// and returns it. Under concurrent claimers at most one succeeds per job.
	ClaimNextPending(ctx context.Context) (Job, bool, error)
	// Transition performs a compare-and-set status change. It fails with
	// ErrInvalidTransition when the job is not currently in from or when
	// from -> to is not a legal state change, leaving state untouched.
	Transition(ctx context.Context, jobID string, from, to JobStatus, change TransitionChange) (Job, error)
	// RequestCancel flags a running job for cooperative cancellation. It
	// fails with ErrNotCancellable unless the job is running.
	RequestCancel(ctx context.Context, jobID string) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	// UpdateProgress resolves one work item, incrementing processed_items
	// (success) or failed_items (failure). Resolving an already-resolved
	// item is a no-op.
	UpdateProgress(ctx context.Context, jobID, businessID string, failed bool) error
	// UnresolvedItems returns the business IDs of a job's items that have
	// not resolved successfully, in snapshot order.
	UnresolvedItems(ctx context.Context, jobID string) ([]string, error)
	// SetTotalItems records a crawl job's item total once discovery resolves.
	SetTotalItems(ctx context.Context, jobID string, total int) error

	// CreateBusiness inserts a discovered business, deduplicating on
	// source_id, and returns the canonical business ID.
	CreateBusiness(ctx context.Context, b Business) (string, error)
	GetBusiness(ctx context.Context, businessID string) (Business, error)
	// ListBusinessIDs resolves a location/industry scope to business IDs.
	ListBusinessIDs(ctx context.Context, scope JobScope) ([]string, error)
	// UpsertBusinessVerification applies a verification outcome. This is the
	// only mutation path for presence, URL and confidence.
	UpsertBusinessVerification(ctx context.Context, businessID string, v Verification) error
	AppendWebsiteCheck(ctx context.Context, check WebsiteCheck) error
	ListWebsiteChecks(ctx context.Context, businessID string) ([]WebsiteCheck, error)
}

// Collector probes one signal source for one business. Implementations map
// timeouts, network errors and "not found" onto distinct outcomes; a probe
// never fails the business it examines.
type Collector interface {
	Type() CheckType
	Probe(ctx context.Context, b Business) Signal
}

// Discoverer finds candidate businesses for a crawl scope. It stands in for
// the external directory sources the crawl jobs harvest.
type Discoverer interface {
	Discover(ctx context.Context, scope JobScope) ([]Business, error)
}

// BusinessLocker serializes verification per business: two units for the
// same business ID never run concurrently. TryLock is a check-and-set on an
// in-flight marker; Unlock clears it.
type BusinessLocker interface {
	TryLock(ctx context.Context, businessID string) (bool, error)
	Unlock(ctx context.Context, businessID string) error
}

// Publisher pushes verification outcome events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job, business and check IDs.
type IDGenerator interface {
	NewID() (string, error)
}
