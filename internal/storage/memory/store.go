// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// jobItems tracks a job's fixed item snapshot and per-item resolution.
type jobItems struct {
	ids      []string
	resolved map[string]bool // true = success, false = failure
}

// Store implements verify.Store with maps under a single mutex. Jobs keep
// creation order so claiming is FIFO like the Postgres implementation.
type Store struct {
	mu            sync.RWMutex
	jobs          map[string]verify.Job
	jobOrder      []string
	items         map[string]*jobItems
	cancels       map[string]bool
	businesses    map[string]verify.Business
	businessOrder []string
	bySourceID    map[string]string
	checks        map[string][]verify.WebsiteCheck
}

// New constructs a Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]verify.Job),
		items:      make(map[string]*jobItems),
		cancels:    make(map[string]bool),
		businesses: make(map[string]verify.Business),
		bySourceID: make(map[string]string),
		checks:     make(map[string][]verify.WebsiteCheck),
	}
}

// CreateJob stores a new pending job with its item snapshot.
func (s *Store) CreateJob(_ context.Context, job verify.Job, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	s.jobOrder = append(s.jobOrder, job.ID)
	s.items[job.ID] = &jobItems{
		ids:      append([]string(nil), itemIDs...),
		resolved: make(map[string]bool),
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (verify.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return verify.Job{}, verify.ErrNotFound
	}
	return job, nil
}

// ClaimNextPending moves the oldest pending job to running and returns it.
func (s *Store) ClaimNextPending(_ context.Context) (verify.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, jobID := range s.jobOrder {
		job := s.jobs[jobID]
		if job.Status != verify.JobPending {
			continue
		}
		job.Status = verify.JobRunning
		now := time.Now().UTC()
		job.StartedAt = &now
		s.jobs[jobID] = job
		return job, true, nil
	}
	return verify.Job{}, false, nil
}

// Transition performs a compare-and-set status change.
func (s *Store) Transition(
	_ context.Context,
	jobID string,
	from, to verify.JobStatus,
	change verify.TransitionChange,
) (verify.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return verify.Job{}, verify.ErrNotFound
	}
	if job.Status != from {
		return verify.Job{}, fmt.Errorf("job %s is %s, not %s: %w",
			jobID, job.Status, from, verify.ErrInvalidTransition)
	}
	if err := verify.ValidateTransition(from, to); err != nil {
		return verify.Job{}, err
	}

	job.Status = to
	job.ErrorText = change.ErrorText
	job.CanRetry = to == verify.JobFailed && change.CanRetry
	now := time.Now().UTC()
	if to == verify.JobRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if to.Terminal() {
		job.FinishedAt = &now
	}
	if to == verify.JobPending {
		job.FinishedAt = nil
	}
	s.jobs[jobID] = job
	delete(s.cancels, jobID)
	return job, nil
}

// RequestCancel flags a running job for cooperative cancellation.
func (s *Store) RequestCancel(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return verify.ErrNotFound
	}
	if job.Status != verify.JobRunning {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, verify.ErrNotCancellable)
	}
	s.cancels[jobID] = true
	return nil
}

// CancelRequested reports whether cancellation has been requested.
func (s *Store) CancelRequested(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return false, verify.ErrNotFound
	}
	return s.cancels[jobID], nil
}

// UpdateProgress resolves one item. Re-resolving is a no-op, which keeps the
// counters monotonic when a wave is replayed.
func (s *Store) UpdateProgress(_ context.Context, jobID, businessID string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return verify.ErrNotFound
	}
	tracked, ok := s.items[jobID]
	if !ok {
		return verify.ErrNotFound
	}
	if _, done := tracked.resolved[businessID]; done {
		return nil
	}
	tracked.resolved[businessID] = !failed
	if failed {
		job.FailedItems++
	} else {
		job.ProcessedItems++
	}
	s.jobs[jobID] = job
	return nil
}

// UnresolvedItems returns items that have not resolved successfully, in
// snapshot order. Failed items count as unresolved; a retry re-attempts them.
func (s *Store) UnresolvedItems(_ context.Context, jobID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracked, ok := s.items[jobID]
	if !ok {
		return nil, verify.ErrNotFound
	}
	var out []string
	for _, id := range tracked.ids {
		if !tracked.resolved[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// SetTotalItems records a crawl job's item total once discovery resolves.
func (s *Store) SetTotalItems(_ context.Context, jobID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return verify.ErrNotFound
	}
	job.TotalItems = total
	s.jobs[jobID] = job
	return nil
}

// CreateBusiness inserts a business, deduplicating on source identity.
func (s *Store) CreateBusiness(_ context.Context, b verify.Business) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sourceKey(b)
	if key != "" {
		if existing, ok := s.bySourceID[key]; ok {
			return existing, nil
		}
	}
	if b.ID == "" {
		return "", fmt.Errorf("business has no ID")
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.Presence == "" {
		b.Presence = verify.PresenceUnknown
	}
	s.businesses[b.ID] = b
	s.businessOrder = append(s.businessOrder, b.ID)
	if key != "" {
		s.bySourceID[key] = b.ID
	}
	return b.ID, nil
}

// GetBusiness fetches a business by ID.
func (s *Store) GetBusiness(_ context.Context, businessID string) (verify.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return verify.Business{}, verify.ErrNotFound
	}
	return b, nil
}

// ListBusinessIDs resolves a scope to business IDs in creation order. An
// explicit ID list short-circuits the location/industry filters.
func (s *Store) ListBusinessIDs(_ context.Context, scope verify.JobScope) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(scope.BusinessIDs) > 0 {
		out := make([]string, 0, len(scope.BusinessIDs))
		for _, id := range scope.BusinessIDs {
			if _, ok := s.businesses[id]; ok {
				out = append(out, id)
			}
		}
		return out, nil
	}
	var out []string
	for _, id := range s.businessOrder {
		b := s.businesses[id]
		if scope.Location != "" && !strings.EqualFold(b.City, scope.Location) {
			continue
		}
		if scope.Industry != "" && !strings.EqualFold(b.Industry, scope.Industry) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// UpsertBusinessVerification applies a verification outcome to a business.
func (s *Store) UpsertBusinessVerification(_ context.Context, businessID string, v verify.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return verify.ErrNotFound
	}
	b.Presence = v.Presence
	b.WebsiteURL = v.WebsiteURL
	b.Confidence = v.Confidence
	b.SignalsUsable = v.SignalsUsable
	b.SignalsQueried = v.SignalsQueried
	checkedAt := v.CheckedAt
	b.LastChecked = &checkedAt
	b.UpdatedAt = time.Now().UTC()
	s.businesses[businessID] = b
	return nil
}

// AppendWebsiteCheck stores one immutable audit row.
func (s *Store) AppendWebsiteCheck(_ context.Context, check verify.WebsiteCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[check.BusinessID] = append(s.checks[check.BusinessID], check)
	return nil
}

// ListWebsiteChecks returns a business's audit rows in append order.
func (s *Store) ListWebsiteChecks(_ context.Context, businessID string) ([]verify.WebsiteCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checks := s.checks[businessID]
	out := make([]verify.WebsiteCheck, len(checks))
	copy(out, checks)
	return out, nil
}

func sourceKey(b verify.Business) string {
	if b.SourceID == "" {
		return ""
	}
	return b.Source + "/" + b.SourceID
}
