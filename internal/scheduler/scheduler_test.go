package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zzpscan/presence-verifier/internal/locker/memory"
	"github.com/zzpscan/presence-verifier/internal/metrics"
	storemem "github.com/zzpscan/presence-verifier/internal/storage/memory"
	"github.com/zzpscan/presence-verifier/internal/verify"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("gen-%d", g.n), nil
}

type noLimit struct{}

func (noLimit) Acquire(context.Context) error { return nil }

// scriptedVerifier returns canned outcomes per business and can call a hook
// after each verification.
type scriptedVerifier struct {
	mu       sync.Mutex
	calls    map[string]int
	inFlight map[string]int
	overlap  bool
	verdicts map[string]verify.Verdict
	errs     map[string]error
	// noEvidenceRuns makes the first N calls per business return a
	// no-evidence verdict before the scripted one.
	noEvidenceRuns map[string]int
	afterCall      func(businessID string, call int)
	delay          time.Duration
}

func newScriptedVerifier() *scriptedVerifier {
	return &scriptedVerifier{
		calls:          make(map[string]int),
		inFlight:       make(map[string]int),
		verdicts:       make(map[string]verify.Verdict),
		errs:           make(map[string]error),
		noEvidenceRuns: make(map[string]int),
	}
}

func (v *scriptedVerifier) Verify(_ context.Context, businessID string) (verify.Verdict, error) {
	v.mu.Lock()
	v.calls[businessID]++
	call := v.calls[businessID]
	v.inFlight[businessID]++
	if v.inFlight[businessID] > 1 {
		v.overlap = true
	}
	v.mu.Unlock()

	if v.delay > 0 {
		time.Sleep(v.delay)
	}

	v.mu.Lock()
	v.inFlight[businessID]--
	verdict := v.verdicts[businessID]
	err := v.errs[businessID]
	noEvidence := call <= v.noEvidenceRuns[businessID]
	hook := v.afterCall
	v.mu.Unlock()

	if hook != nil {
		hook(businessID, call)
	}
	if err != nil {
		return verify.Verdict{}, err
	}
	if noEvidence {
		return verify.Verdict{Presence: verify.PresenceUnknown, Queried: 4, Usable: 0}, nil
	}
	if verdict.Queried == 0 {
		verdict = verify.Verdict{Presence: verify.PresenceConfirmed, Confidence: 0.8, Usable: 3, Queried: 4}
	}
	return verdict, nil
}

func (v *scriptedVerifier) callCount(businessID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[businessID]
}

func newScheduler(store verify.Store, unit Verifier, discoverer verify.Discoverer, cfg Config) *Scheduler {
	metrics.Init()
	return New(
		store,
		unit,
		discoverer,
		memory.New(),
		noLimit{},
		systemClock{},
		&seqIDs{},
		nil,
		cfg,
		zap.NewNop(),
	)
}

func seedVerifyJob(t *testing.T, store *storemem.Store, jobID string, itemIDs []string) verify.Job {
	t.Helper()
	ctx := context.Background()
	for _, id := range itemIDs {
		_, err := store.CreateBusiness(ctx, verify.Business{ID: id, Name: "Biz " + id})
		require.NoError(t, err)
	}
	job := verify.Job{
		ID:         jobID,
		Type:       verify.JobTypeVerify,
		Status:     verify.JobPending,
		Scope:      verify.JobScope{BusinessIDs: itemIDs},
		TotalItems: len(itemIDs),
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(ctx, job, itemIDs))
	return job
}

func claim(t *testing.T, store *storemem.Store) verify.Job {
	t.Helper()
	job, claimed, err := store.ClaimNextPending(context.Background())
	require.NoError(t, err)
	require.True(t, claimed)
	return job
}

func TestScheduler_CompletesJobWithMixedItems(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	items := []string{"b1", "b2", "b3", "b4", "b5"}
	seedVerifyJob(t, store, "job-1", items)

	unit := newScriptedVerifier()
	// b3 vanished between snapshot and execution.
	unit.errs["b3"] = fmt.Errorf("load business b3: %w", verify.ErrNotFound)

	s := newScheduler(store, unit, nil, Config{Workers: 2})
	job := claim(t, store)
	s.runJob(context.Background(), job)

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobCompleted, got.Status)
	require.Equal(t, 4, got.ProcessedItems)
	require.Equal(t, 1, got.FailedItems)
	require.NotNil(t, got.FinishedAt)
}

func TestScheduler_CancelPreservesPartialProgress(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	items := make([]string, 20)
	for i := range items {
		items[i] = fmt.Sprintf("b%02d", i)
	}
	seedVerifyJob(t, store, "job-1", items)

	unit := newScriptedVerifier()
	done := 0
	var mu sync.Mutex
	unit.afterCall = func(string, int) {
		mu.Lock()
		done++
		if done == 7 {
			require.NoError(t, store.RequestCancel(context.Background(), "job-1"))
		}
		mu.Unlock()
	}

	s := newScheduler(store, unit, nil, Config{Workers: 1})
	job := claim(t, store)
	s.runJob(context.Background(), job)

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobCancelled, got.Status)
	require.Equal(t, 7, got.ProcessedItems)
	require.Zero(t, got.FailedItems)

	// The unresolved remainder is recoverable.
	unresolved, err := store.UnresolvedItems(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, unresolved, 13)
}

func TestScheduler_InfrastructureFailureFailsJobRetryable(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	seedVerifyJob(t, store, "job-1", []string{"b1", "b2", "b3"})

	unit := newScriptedVerifier()
	unit.errs["b2"] = errors.New("store verification b2: connection refused")

	s := newScheduler(store, unit, nil, Config{Workers: 1})
	job := claim(t, store)
	s.runJob(context.Background(), job)

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobFailed, got.Status)
	require.True(t, got.CanRetry)
	require.Contains(t, got.ErrorText, "connection refused")
	// b1 finished before the failure; b3 was never dispatched.
	require.Equal(t, 1, got.ProcessedItems)
	require.Zero(t, got.FailedItems)
}

func TestScheduler_NoEvidenceRequeuesThenResolves(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	seedVerifyJob(t, store, "job-1", []string{"b1"})

	unit := newScriptedVerifier()
	unit.noEvidenceRuns["b1"] = 2

	s := newScheduler(store, unit, nil, Config{Workers: 1, ItemRetries: 2})
	job := claim(t, store)
	s.runJob(context.Background(), job)

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobCompleted, got.Status)
	require.Equal(t, 1, got.ProcessedItems)
	require.Zero(t, got.FailedItems)
	require.Equal(t, 3, unit.callCount("b1"))
}

func TestScheduler_NoEvidenceExhaustsRetriesAsFailure(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	seedVerifyJob(t, store, "job-1", []string{"b1"})

	unit := newScriptedVerifier()
	unit.noEvidenceRuns["b1"] = 100

	s := newScheduler(store, unit, nil, Config{Workers: 1, ItemRetries: 2})
	job := claim(t, store)
	s.runJob(context.Background(), job)

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobCompleted, got.Status)
	require.Zero(t, got.ProcessedItems)
	require.Equal(t, 1, got.FailedItems)
	require.Equal(t, 3, unit.callCount("b1"))
}

// ctxStore rejects writes once their context is done, the way the Postgres
// store does. The plain memory store never looks at the context.
type ctxStore struct {
	verify.Store
}

func (s *ctxStore) Transition(ctx context.Context, jobID string, from, to verify.JobStatus, change verify.TransitionChange) (verify.Job, error) {
	if err := ctx.Err(); err != nil {
		return verify.Job{}, err
	}
	return s.Store.Transition(ctx, jobID, from, to, change)
}

func (s *ctxStore) UpdateProgress(ctx context.Context, jobID, businessID string, failed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateProgress(ctx, jobID, businessID, failed)
}

func TestScheduler_ShutdownLeavesJobRetryable(t *testing.T) {
	t.Parallel()

	mem := storemem.New()
	seedVerifyJob(t, mem, "job-1", []string{"b1", "b2", "b3", "b4", "b5"})

	unit := newScriptedVerifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := 0
	var mu sync.Mutex
	unit.afterCall = func(string, int) {
		mu.Lock()
		done++
		if done == 2 {
			cancel()
		}
		mu.Unlock()
	}

	s := newScheduler(&ctxStore{Store: mem}, unit, nil, Config{Workers: 1})
	job := claim(t, mem)
	s.runJob(ctx, job)

	// The terminal transition and the progress for the item that drained
	// during shutdown must land even though the run context is gone.
	got, err := mem.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobFailed, got.Status)
	require.True(t, got.CanRetry)
	require.Contains(t, got.ErrorText, "shutting down")
	require.Equal(t, 2, got.ProcessedItems)
	require.Zero(t, got.FailedItems)

	unresolved, err := mem.UnresolvedItems(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, unresolved, 3)
}

func TestScheduler_SerializesSameBusinessAcrossJobs(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	seedVerifyJob(t, store, "job-1", []string{"shared", "only1"})
	job2 := verify.Job{
		ID:         "job-2",
		Type:       verify.JobTypeVerify,
		Status:     verify.JobPending,
		Scope:      verify.JobScope{BusinessIDs: []string{"shared", "only2"}},
		TotalItems: 2,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := store.CreateBusiness(context.Background(), verify.Business{ID: "only2", Name: "Only 2"})
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(context.Background(), job2, []string{"shared", "only2"}))

	unit := newScriptedVerifier()
	unit.delay = 20 * time.Millisecond

	s := newScheduler(store, unit, nil, Config{Workers: 2, ClaimInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(runDone)
	}()

	require.Eventually(t, func() bool {
		j1, err := store.GetJob(context.Background(), "job-1")
		require.NoError(t, err)
		j2, err := store.GetJob(context.Background(), "job-2")
		require.NoError(t, err)
		return j1.Status == verify.JobCompleted && j2.Status == verify.JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-runDone

	unit.mu.Lock()
	overlap := unit.overlap
	unit.mu.Unlock()
	require.False(t, overlap, "same business verified concurrently")
}

type stubDiscoverer struct {
	businesses []verify.Business
	err        error
}

func (d *stubDiscoverer) Discover(context.Context, verify.JobScope) ([]verify.Business, error) {
	return d.businesses, d.err
}

func TestScheduler_CrawlJobMaterializesTotals(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	job := verify.Job{
		ID:        "job-1",
		Type:      verify.JobTypeCrawl,
		Status:    verify.JobPending,
		Scope:     verify.JobScope{Location: "Utrecht"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(context.Background(), job, nil))

	discoverer := &stubDiscoverer{businesses: []verify.Business{
		{Name: "Acme", City: "Utrecht", Source: "kvk", SourceID: "1"},
		{Name: "Beta", City: "Utrecht", Source: "kvk", SourceID: "2"},
		{Name: "Acme dup", City: "Utrecht", Source: "kvk", SourceID: "1"},
	}}

	s := newScheduler(store, newScriptedVerifier(), discoverer, Config{Workers: 1})
	claimed := claim(t, store)
	s.runJob(context.Background(), claimed)

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobCompleted, got.Status)
	require.Equal(t, 3, got.TotalItems)

	ids, err := store.ListBusinessIDs(context.Background(), verify.JobScope{Location: "Utrecht"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestScheduler_CrawlDiscoveryFailureIsRetryable(t *testing.T) {
	t.Parallel()

	store := storemem.New()
	job := verify.Job{
		ID:        "job-1",
		Type:      verify.JobTypeCrawl,
		Status:    verify.JobPending,
		Scope:     verify.JobScope{Location: "Utrecht"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateJob(context.Background(), job, nil))

	s := newScheduler(store, newScriptedVerifier(),
		&stubDiscoverer{err: errors.New("directory unreachable")}, Config{Workers: 1})
	claimed := claim(t, store)
	s.runJob(context.Background(), claimed)

	got, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, verify.JobFailed, got.Status)
	require.True(t, got.CanRetry)
}
