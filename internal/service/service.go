// Package service implements the job trigger surface used by the HTTP API.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Service validates job requests and drives the store. Execution is the
// scheduler's concern; everything here finishes before the job runs.
type Service struct {
	store  verify.Store
	clock  verify.Clock
	idGen  verify.IDGenerator
	logger *zap.Logger
}

// New constructs a Service.
func New(store verify.Store, clock verify.Clock, idGen verify.IDGenerator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, idGen: idGen, logger: logger}
}

// SubmitRequest describes a new job.
type SubmitRequest struct {
	Type  verify.JobType
	Scope verify.JobScope
}

// SubmitJob validates the request, snapshots the item set for verify jobs and
// persists a pending job. Crawl jobs materialize their items at discovery
// time, so they start with an empty snapshot.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (verify.Job, error) {
	if err := validateScope(req); err != nil {
		return verify.Job{}, err
	}

	var itemIDs []string
	if req.Type == verify.JobTypeVerify {
		ids, err := s.store.ListBusinessIDs(ctx, req.Scope)
		if err != nil {
			return verify.Job{}, fmt.Errorf("resolve scope: %w", err)
		}
		itemIDs = ids
	}

	job, err := s.createJob(ctx, req.Type, req.Scope, "", itemIDs)
	if err != nil {
		return verify.Job{}, err
	}
	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.Int("total_items", job.TotalItems),
	)
	return job, nil
}

// CancelJob requests cooperative cancellation of a running job. In-flight
// items drain; the scheduler applies the terminal transition.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	if err := s.store.RequestCancel(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job cancellation requested", zap.String("job_id", jobID))
	return nil
}

// RetryJob creates a new job continuing a failed one. A verify retry scopes
// to the failed job's unresolved items; a crawl retry re-submits the same
// discovery scope. The original job stays failed and keeps its counters.
func (s *Service) RetryJob(ctx context.Context, jobID string) (verify.Job, error) {
	prior, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return verify.Job{}, err
	}
	if prior.Status != verify.JobFailed || !prior.CanRetry {
		return verify.Job{}, fmt.Errorf("job %s is %s: %w", jobID, prior.Status, verify.ErrNotRetryable)
	}

	scope := prior.Scope
	var itemIDs []string
	if prior.Type == verify.JobTypeVerify {
		unresolved, err := s.store.UnresolvedItems(ctx, jobID)
		if err != nil {
			return verify.Job{}, fmt.Errorf("resolve unresolved items: %w", err)
		}
		itemIDs = unresolved
		scope = verify.JobScope{BusinessIDs: unresolved}
	}

	job, err := s.createJob(ctx, prior.Type, scope, jobID, itemIDs)
	if err != nil {
		return verify.Job{}, err
	}
	s.logger.Info("job retried",
		zap.String("job_id", job.ID),
		zap.String("retry_of", jobID),
		zap.Int("total_items", job.TotalItems),
	)
	return job, nil
}

// GetJobStatus returns the job with its live counters.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (verify.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// GetBusiness returns one business record.
func (s *Service) GetBusiness(ctx context.Context, businessID string) (verify.Business, error) {
	return s.store.GetBusiness(ctx, businessID)
}

// ListWebsiteChecks returns a business's audit trail.
func (s *Service) ListWebsiteChecks(ctx context.Context, businessID string) ([]verify.WebsiteCheck, error) {
	if _, err := s.store.GetBusiness(ctx, businessID); err != nil {
		return nil, err
	}
	return s.store.ListWebsiteChecks(ctx, businessID)
}

func (s *Service) createJob(
	ctx context.Context,
	jobType verify.JobType,
	scope verify.JobScope,
	retryOf string,
	itemIDs []string,
) (verify.Job, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return verify.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := verify.Job{
		ID:         id,
		Type:       jobType,
		Status:     verify.JobPending,
		Scope:      scope,
		TotalItems: len(itemIDs),
		RetryOf:    retryOf,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.CreateJob(ctx, job, itemIDs); err != nil {
		return verify.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func validateScope(req SubmitRequest) error {
	switch req.Type {
	case verify.JobTypeVerify:
		if req.Scope.Location == "" && req.Scope.Industry == "" && len(req.Scope.BusinessIDs) == 0 {
			return fmt.Errorf("verify job needs a location, industry or business list: %w", verify.ErrMalformedScope)
		}
	case verify.JobTypeCrawl:
		if req.Scope.Location == "" {
			return fmt.Errorf("crawl job needs a location: %w", verify.ErrMalformedScope)
		}
	default:
		return fmt.Errorf("unknown job type %q: %w", req.Type, verify.ErrMalformedScope)
	}
	return nil
}
