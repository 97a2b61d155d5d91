// Package scheduler claims pending jobs and drives them to a terminal state.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zzpscan/presence-verifier/internal/metrics"
	"github.com/zzpscan/presence-verifier/internal/progress"
	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Config controls Scheduler behavior.
type Config struct {
	// Workers is the per-job verification pool size.
	Workers int
	// ClaimInterval is how often the pending queue is polled.
	ClaimInterval time.Duration
	// ItemRetries caps automatic re-queues of items whose run produced no
	// usable evidence.
	ItemRetries int
}

// Verifier runs the full verification pipeline for one business.
type Verifier interface {
	Verify(ctx context.Context, businessID string) (verify.Verdict, error)
}

// Limiter grants outbound probe budget.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// lockMissWait is how long a wave that made no progress (every item lock was
// held elsewhere) pauses before replaying.
const lockMissWait = 100 * time.Millisecond

// detachTimeout bounds store writes that must still land once the scheduler
// context is cancelled: terminal transitions, drain-time progress and lock
// release. Without the detachment a shutdown would strand jobs in running,
// where neither the claim loop nor retry can ever pick them up again.
const detachTimeout = 5 * time.Second

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), detachTimeout)
}

// Scheduler polls the store for pending jobs and executes them. Verify jobs
// fan items out over a bounded worker pool in waves; crawl jobs run their
// discovery sequentially. Cancellation is cooperative: the flag is checked
// between dispatches and in-flight items drain before the terminal
// transition.
type Scheduler struct {
	store      verify.Store
	unit       Verifier
	discoverer verify.Discoverer
	locker     verify.BusinessLocker
	limiter    Limiter
	clock      verify.Clock
	idGen      verify.IDGenerator
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Scheduler.
func New(
	store verify.Store,
	unit Verifier,
	discoverer verify.Discoverer,
	locker verify.BusinessLocker,
	limiter Limiter,
	clock verify.Clock,
	idGen verify.IDGenerator,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = time.Second
	}
	if cfg.ItemRetries < 0 {
		cfg.ItemRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:      store,
		unit:       unit,
		discoverer: discoverer,
		locker:     locker,
		limiter:    limiter,
		clock:      clock,
		idGen:      idGen,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, claiming and executing pending jobs until the context finishes,
// then waits for running jobs to drain.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		s.claimAll(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

// claimAll drains the pending queue, spawning one runner per claimed job.
func (s *Scheduler) claimAll(ctx context.Context) {
	for ctx.Err() == nil {
		job, claimed, err := s.store.ClaimNextPending(ctx)
		if err != nil {
			s.logger.Error("claim pending job", zap.Error(err))
			return
		}
		if !claimed {
			return
		}
		s.wg.Add(1)
		go func(job verify.Job) {
			defer s.wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job verify.Job) {
	start := s.clock.Now()
	s.emit(progress.Event{JobID: job.ID, TS: start, Stage: progress.StageJobStart})
	s.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.Int("total_items", job.TotalItems),
	)

	var status verify.JobStatus
	var change verify.TransitionChange
	switch job.Type {
	case verify.JobTypeVerify:
		status, change = s.runVerifyJob(ctx, job)
	case verify.JobTypeCrawl:
		status, change = s.runCrawlJob(ctx, job)
	default:
		status = verify.JobFailed
		change = verify.TransitionChange{ErrorText: "unknown job type " + string(job.Type)}
	}

	storeCtx, cancel := detach(ctx)
	defer cancel()
	finished, err := s.store.Transition(storeCtx, job.ID, verify.JobRunning, status, change)
	if err != nil {
		s.logger.Error("job transition failed",
			zap.String("job_id", job.ID),
			zap.String("to", string(status)),
			zap.Error(err),
		)
		return
	}

	dur := s.clock.Now().Sub(start)
	metrics.ObserveJob(string(status))
	s.emit(progress.Event{
		JobID: job.ID,
		TS:    s.clock.Now(),
		Stage: terminalStage(status),
		Dur:   dur,
		Note:  change.ErrorText,
	})
	s.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("processed_items", finished.ProcessedItems),
		zap.Int("failed_items", finished.FailedItems),
		zap.Duration("dur", dur),
	)
}

// itemState tracks requeue attempts between waves.
type itemState struct {
	mu       sync.Mutex
	attempts map[string]int
	requeued []string
	fatal    error
}

func (st *itemState) requeue(id string, countAttempt bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if countAttempt {
		st.attempts[id]++
	}
	st.requeued = append(st.requeued, id)
}

func (st *itemState) attemptsFor(id string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.attempts[id]
}

func (st *itemState) abort(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fatal == nil {
		st.fatal = err
	}
}

func (st *itemState) aborted() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fatal
}

// runVerifyJob dispatches the job's unresolved items in waves. A wave is the
// current queue fanned out over the worker pool; items whose business lock is
// held elsewhere roll over to the next wave without consuming an attempt.
func (s *Scheduler) runVerifyJob(ctx context.Context, job verify.Job) (verify.JobStatus, verify.TransitionChange) {
	queue, err := s.store.UnresolvedItems(ctx, job.ID)
	if err != nil {
		return verify.JobFailed, verify.TransitionChange{
			ErrorText: "load job items: " + err.Error(),
			CanRetry:  true,
		}
	}

	state := &itemState{attempts: make(map[string]int)}
	for len(queue) > 0 {
		if cancelled, stop := s.checkCancel(ctx, job.ID); stop {
			if cancelled {
				return verify.JobCancelled, verify.TransitionChange{}
			}
			return verify.JobFailed, verify.TransitionChange{
				ErrorText: "verifier shutting down",
				CanRetry:  true,
			}
		}

		wave := queue
		queue = nil
		dispatched := s.runWave(ctx, job, wave, state)
		if err := state.aborted(); err != nil {
			return verify.JobFailed, verify.TransitionChange{
				ErrorText: err.Error(),
				CanRetry:  true,
			}
		}

		state.mu.Lock()
		queue = state.requeued
		state.requeued = nil
		state.mu.Unlock()

		// A wave that dispatched nothing new is spinning on held locks.
		if !dispatched && len(queue) > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(lockMissWait):
			}
		}
	}

	return verify.JobCompleted, verify.TransitionChange{}
}

// runWave fans one wave of items over the worker pool and waits for it to
// drain. It reports whether any item got past its business lock.
func (s *Scheduler) runWave(ctx context.Context, job verify.Job, wave []string, state *itemState) bool {
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	var progressed sync.Once
	madeProgress := false

	for i, businessID := range wave {
		// Take the worker slot first: with a drained pool the cancel and
		// abort checks then run strictly between item executions.
		sem <- struct{}{}
		stop := state.aborted() != nil || ctx.Err() != nil
		if !stop {
			cancelled, halt := s.checkCancel(ctx, job.ID)
			stop = cancelled || halt
		}
		if stop {
			<-sem
			// Undispatched items roll back into the queue so the caller
			// sees them as unresolved when it decides the terminal state.
			for _, rest := range wave[i:] {
				state.requeue(rest, false)
			}
			break
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.runItem(ctx, job, id, state) {
				progressed.Do(func() { madeProgress = true })
			}
		}(businessID)
	}
	wg.Wait()
	return madeProgress
}

// runItem executes one item and resolves it against the job. It reports
// whether the item got past its business lock.
func (s *Scheduler) runItem(ctx context.Context, job verify.Job, businessID string, state *itemState) bool {
	locked, err := s.locker.TryLock(ctx, businessID)
	if err != nil {
		s.logger.Warn("business lock",
			zap.String("job_id", job.ID),
			zap.String("business_id", businessID),
			zap.Error(err),
		)
		state.requeue(businessID, false)
		return false
	}
	if !locked {
		state.requeue(businessID, false)
		return false
	}
	defer func() {
		unlockCtx, cancel := detach(ctx)
		defer cancel()
		if err := s.locker.Unlock(unlockCtx, businessID); err != nil {
			s.logger.Warn("business unlock", zap.String("business_id", businessID), zap.Error(err))
		}
	}()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := s.limiter.Acquire(ctx); err != nil {
		s.retryOrFail(ctx, job, businessID, state, "rate limit: "+err.Error())
		return true
	}

	start := s.clock.Now()
	verdict, err := s.unit.Verify(ctx, businessID)
	dur := s.clock.Now().Sub(start)

	switch {
	case err == nil && verdict.NoEvidence():
		s.retryOrFail(ctx, job, businessID, state, "no usable evidence")
	case err == nil:
		s.resolveItem(ctx, job, businessID, false, progress.Event{
			JobID:      job.ID,
			BusinessID: businessID,
			TS:         s.clock.Now(),
			Stage:      progress.StageItemDone,
			Presence:   verdict.Presence,
			Confidence: verdict.Confidence,
			Dur:        dur,
		})
	case errors.Is(err, verify.ErrNotFound):
		s.resolveItem(ctx, job, businessID, true, progress.Event{
			JobID:      job.ID,
			BusinessID: businessID,
			TS:         s.clock.Now(),
			Stage:      progress.StageItemFailed,
			Dur:        dur,
			Note:       err.Error(),
		})
	default:
		// Anything else is infrastructure trouble; the whole job fails
		// retryable rather than burning every item against a dead store.
		state.abort(err)
	}
	return true
}

// retryOrFail re-queues an item for another pass, or resolves it as failed
// once its attempts are spent.
func (s *Scheduler) retryOrFail(ctx context.Context, job verify.Job, businessID string, state *itemState, note string) {
	if state.attemptsFor(businessID) < s.cfg.ItemRetries {
		state.requeue(businessID, true)
		metrics.ObserveItem("requeued")
		s.emit(progress.Event{
			JobID:      job.ID,
			BusinessID: businessID,
			TS:         s.clock.Now(),
			Stage:      progress.StageItemRequeued,
			Note:       note,
		})
		return
	}
	s.resolveItem(ctx, job, businessID, true, progress.Event{
		JobID:      job.ID,
		BusinessID: businessID,
		TS:         s.clock.Now(),
		Stage:      progress.StageItemFailed,
		Note:       note,
	})
}

func (s *Scheduler) resolveItem(ctx context.Context, job verify.Job, businessID string, failed bool, evt progress.Event) {
	// Items that finish while the scheduler is shutting down still count.
	storeCtx, cancel := detach(ctx)
	defer cancel()
	if err := s.store.UpdateProgress(storeCtx, job.ID, businessID, failed); err != nil {
		s.logger.Error("update progress",
			zap.String("job_id", job.ID),
			zap.String("business_id", businessID),
			zap.Error(err),
		)
	}
	if failed {
		metrics.ObserveItem("failed")
	} else {
		metrics.ObserveItem("done")
	}
	s.emit(evt)
}

// runCrawlJob discovers businesses for the scope and persists them. The item
// total materializes once discovery resolves.
func (s *Scheduler) runCrawlJob(ctx context.Context, job verify.Job) (verify.JobStatus, verify.TransitionChange) {
	if s.discoverer == nil {
		return verify.JobFailed, verify.TransitionChange{ErrorText: "no discoverer configured"}
	}

	found, err := s.discoverer.Discover(ctx, job.Scope)
	if err != nil {
		return verify.JobFailed, verify.TransitionChange{
			ErrorText: "discover businesses: " + err.Error(),
			CanRetry:  true,
		}
	}
	if err := s.store.SetTotalItems(ctx, job.ID, len(found)); err != nil {
		return verify.JobFailed, verify.TransitionChange{
			ErrorText: "set item total: " + err.Error(),
			CanRetry:  true,
		}
	}

	for _, business := range found {
		if cancelled, stop := s.checkCancel(ctx, job.ID); stop {
			if cancelled {
				return verify.JobCancelled, verify.TransitionChange{}
			}
			return verify.JobFailed, verify.TransitionChange{
				ErrorText: "verifier shutting down",
				CanRetry:  true,
			}
		}

		if business.ID == "" {
			id, err := s.idGen.NewID()
			if err != nil {
				return verify.JobFailed, verify.TransitionChange{
					ErrorText: "generate business id: " + err.Error(),
					CanRetry:  true,
				}
			}
			business.ID = id
		}

		canonicalID, err := s.store.CreateBusiness(ctx, business)
		failed := err != nil
		if failed {
			canonicalID = business.ID
			s.logger.Warn("persist discovered business",
				zap.String("job_id", job.ID),
				zap.String("business_id", business.ID),
				zap.Error(err),
			)
		}
		stage := progress.StageItemDone
		if failed {
			stage = progress.StageItemFailed
		}
		// Progress is keyed by the discovered ID so duplicates that
		// deduplicate onto one canonical business still each count.
		s.resolveItem(ctx, job, business.ID, failed, progress.Event{
			JobID:      job.ID,
			BusinessID: canonicalID,
			TS:         s.clock.Now(),
			Stage:      stage,
		})
	}

	return verify.JobCompleted, verify.TransitionChange{}
}

// checkCancel reports (cancelled, stop). stop is also set when the scheduler
// context is gone so runners wind down on shutdown.
func (s *Scheduler) checkCancel(ctx context.Context, jobID string) (bool, bool) {
	if ctx.Err() != nil {
		return false, true
	}
	requested, err := s.store.CancelRequested(ctx, jobID)
	if err != nil {
		s.logger.Warn("check cancel flag", zap.String("job_id", jobID), zap.Error(err))
		return false, false
	}
	return requested, requested
}

func (s *Scheduler) emit(evt progress.Event) {
	if s.emitter != nil {
		s.emitter.Emit(evt)
	}
}

func terminalStage(status verify.JobStatus) progress.Stage {
	switch status {
	case verify.JobCompleted:
		return progress.StageJobDone
	case verify.JobCancelled:
		return progress.StageJobCancelled
	default:
		return progress.StageJobFailed
	}
}
