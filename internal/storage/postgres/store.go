// Package postgres persists businesses, jobs and audit checks in PostgreSQL.
// Job claiming uses FOR UPDATE SKIP LOCKED so multiple scheduler replicas can
// share one queue without double-claiming.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements verify.Store backed by PostgreSQL.
type Store struct {
	pool   Pool
	logger *zap.Logger
}

// NewStore wraps an existing pool. Use Connect to build the pool from a DSN.
func NewStore(pool Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

const jobColumns = `id, job_type, status, scope, total_items, processed_items, failed_items,
	can_retry, retry_of, error_text, created_at, started_at, finished_at`

func scanJob(row pgx.Row) (verify.Job, error) {
	var (
		j     verify.Job
		scope []byte
	)
	err := row.Scan(
		&j.ID, &j.Type, &j.Status, &scope,
		&j.TotalItems, &j.ProcessedItems, &j.FailedItems,
		&j.CanRetry, &j.RetryOf, &j.ErrorText,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return verify.Job{}, err
	}
	if len(scope) > 0 {
		if err := json.Unmarshal(scope, &j.Scope); err != nil {
			return verify.Job{}, fmt.Errorf("decode job scope: %w", err)
		}
	}
	return j, nil
}

// CreateJob inserts the job and its item snapshot in one transaction.
func (s *Store) CreateJob(ctx context.Context, job verify.Job, itemIDs []string) error {
	scope, err := json.Marshal(job.Scope)
	if err != nil {
		return fmt.Errorf("encode job scope: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, job_type, status, scope, total_items, processed_items, failed_items,
			can_retry, retry_of, error_text, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, FALSE, $6, '', $7)`,
		job.ID, job.Type, job.Status, scope, job.TotalItems, job.RetryOf, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	for i, businessID := range itemIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_items (job_id, business_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT (job_id, business_id) DO NOTHING`,
			job.ID, businessID, i,
		)
		if err != nil {
			return fmt.Errorf("insert job item: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create job: %w", err)
	}
	return nil
}

// GetJob fetches one job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (verify.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return verify.Job{}, fmt.Errorf("job %s: %w", jobID, verify.ErrNotFound)
	}
	if err != nil {
		return verify.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNextPending atomically promotes the oldest pending job to running.
// SKIP LOCKED lets concurrent claimers pass over rows another transaction
// already holds instead of blocking on them.
func (s *Store) ClaimNextPending(ctx context.Context) (verify.Job, bool, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs SET status = 'running', started_at = COALESCE(started_at, now())
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns))
	if errors.Is(err, pgx.ErrNoRows) {
		return verify.Job{}, false, nil
	}
	if err != nil {
		return verify.Job{}, false, fmt.Errorf("claim pending job: %w", err)
	}
	return job, true, nil
}

// Transition performs a compare-and-set status change. The WHERE clause pins
// the expected current status so a concurrent writer cannot race the change.
func (s *Store) Transition(ctx context.Context, jobID string, from, to verify.JobStatus, change verify.TransitionChange) (verify.Job, error) {
	if err := verify.ValidateTransition(from, to); err != nil {
		return verify.Job{}, err
	}
	canRetry := change.CanRetry && to == verify.JobFailed

	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = $3,
			error_text = $4,
			can_retry = $5,
			cancel_requested = FALSE,
			started_at = CASE WHEN $3 = 'running' THEN COALESCE(started_at, now()) ELSE started_at END,
			finished_at = CASE
				WHEN $3 IN ('completed', 'failed', 'cancelled') THEN now()
				WHEN $3 = 'pending' THEN NULL
				ELSE finished_at
			END
		WHERE id = $1 AND status = $2
		RETURNING `+jobColumns,
		jobID, from, to, change.ErrorText, canRetry,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing job from a stale expected status.
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return verify.Job{}, getErr
		}
		return verify.Job{}, fmt.Errorf("job %s is no longer %s: %w", jobID, from, verify.ErrInvalidTransition)
	}
	if err != nil {
		return verify.Job{}, fmt.Errorf("transition job: %w", err)
	}
	return job, nil
}

// RequestCancel flags a running job for cooperative cancellation.
func (s *Store) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = TRUE WHERE id = $1 AND status = 'running'`, jobID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", jobID, job.Status, verify.ErrNotCancellable)
}

// CancelRequested reports whether cancellation has been requested for the job.
func (s *Store) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("job %s: %w", jobID, verify.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("cancel requested: %w", err)
	}
	return requested, nil
}

// UpdateProgress resolves one item and bumps the matching job counter. Items
// missing from the snapshot (crawl jobs materialize them at discovery time)
// are inserted on first resolution. Re-resolving is a no-op.
func (s *Store) UpdateProgress(ctx context.Context, jobID, businessID string, failed bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update progress: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO job_items (job_id, business_id, position, resolved, success)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM job_items WHERE job_id = $1),
			TRUE, $3)
		ON CONFLICT (job_id, business_id) DO UPDATE
			SET resolved = TRUE, success = $3
			WHERE job_items.resolved = FALSE`,
		jobID, businessID, !failed,
	)
	if err != nil {
		return fmt.Errorf("resolve job item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already resolved.
		return tx.Commit(ctx)
	}

	column := "processed_items"
	if failed {
		column = "failed_items"
	}
	_, err = tx.Exec(ctx,
		`UPDATE jobs SET `+column+` = `+column+` + 1 WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("bump job counter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update progress: %w", err)
	}
	return nil
}

// UnresolvedItems returns the item IDs not yet resolved successfully, in
// snapshot order.
func (s *Store) UnresolvedItems(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT business_id FROM job_items
		WHERE job_id = $1 AND (resolved = FALSE OR success = FALSE)
		ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list unresolved items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unresolved item: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unresolved items: %w", err)
	}
	return ids, nil
}

// SetTotalItems records a crawl job's item total once discovery resolves.
func (s *Store) SetTotalItems(ctx context.Context, jobID string, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET total_items = $2 WHERE id = $1`, jobID, total)
	if err != nil {
		return fmt.Errorf("set total items: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, verify.ErrNotFound)
	}
	return nil
}

const businessColumns = `id, name, address, city, postal_code, country, industry,
	source, source_id, website_exists, website_url, confidence,
	signals_usable, signals_queried, created_at, updated_at, last_checked`

func scanBusiness(row pgx.Row) (verify.Business, error) {
	var b verify.Business
	err := row.Scan(
		&b.ID, &b.Name, &b.Address, &b.City, &b.PostalCode, &b.Country, &b.Industry,
		&b.Source, &b.SourceID, &b.Presence, &b.WebsiteURL, &b.Confidence,
		&b.SignalsUsable, &b.SignalsQueried, &b.CreatedAt, &b.UpdatedAt, &b.LastChecked,
	)
	return b, err
}

// CreateBusiness inserts a discovered business, deduplicating on the
// (source, source_id) pair, and returns the canonical row's ID.
func (s *Store) CreateBusiness(ctx context.Context, b verify.Business) (string, error) {
	if b.SourceID != "" {
		var existing string
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM businesses WHERE source = $1 AND source_id = $2`,
			b.Source, b.SourceID).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("lookup business by source: %w", err)
		}
	}

	presence := b.Presence
	if presence == "" {
		presence = verify.PresenceUnknown
	}
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO businesses (id, name, address, city, postal_code, country, industry,
			source, source_id, website_exists, website_url, confidence,
			signals_usable, signals_queried, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		ON CONFLICT (source, source_id) WHERE source_id <> '' DO NOTHING
		RETURNING id`,
		b.ID, b.Name, b.Address, b.City, b.PostalCode, b.Country, b.Industry,
		b.Source, b.SourceID, presence, b.WebsiteURL, b.Confidence,
		b.SignalsUsable, b.SignalsQueried, b.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent insert won the dedupe race; return its ID.
		err = s.pool.QueryRow(ctx,
			`SELECT id FROM businesses WHERE source = $1 AND source_id = $2`,
			b.Source, b.SourceID).Scan(&id)
	}
	if err != nil {
		return "", fmt.Errorf("insert business: %w", err)
	}
	return id, nil
}

// GetBusiness fetches one business by ID.
func (s *Store) GetBusiness(ctx context.Context, businessID string) (verify.Business, error) {
	b, err := scanBusiness(s.pool.QueryRow(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = $1`, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return verify.Business{}, fmt.Errorf("business %s: %w", businessID, verify.ErrNotFound)
	}
	if err != nil {
		return verify.Business{}, fmt.Errorf("get business: %w", err)
	}
	return b, nil
}

// ListBusinessIDs resolves a job scope to business IDs. Explicit IDs are
// filtered to rows that exist and keep their given order; location and
// industry filters match case-insensitively.
func (s *Store) ListBusinessIDs(ctx context.Context, scope verify.JobScope) ([]string, error) {
	if len(scope.BusinessIDs) > 0 {
		rows, err := s.pool.Query(ctx,
			`SELECT id FROM businesses WHERE id = ANY($1)`, scope.BusinessIDs)
		if err != nil {
			return nil, fmt.Errorf("list businesses by id: %w", err)
		}
		defer rows.Close()

		existing := make(map[string]struct{}, len(scope.BusinessIDs))
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("scan business id: %w", err)
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate business ids: %w", err)
		}
		ids := make([]string, 0, len(existing))
		for _, id := range scope.BusinessIDs {
			if _, ok := existing[id]; ok {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id FROM businesses
		WHERE ($1 = '' OR lower(city) = lower($1))
		  AND ($2 = '' OR lower(industry) = lower($2))
		ORDER BY created_at, id`,
		scope.Location, scope.Industry)
	if err != nil {
		return nil, fmt.Errorf("list businesses by scope: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan business id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate business ids: %w", err)
	}
	return ids, nil
}

// UpsertBusinessVerification applies a verification outcome to the business
// row. This is the only mutation path for presence, URL and confidence.
func (s *Store) UpsertBusinessVerification(ctx context.Context, businessID string, v verify.Verification) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE businesses SET
			website_exists = $2,
			website_url = $3,
			confidence = $4,
			signals_usable = $5,
			signals_queried = $6,
			last_checked = $7,
			updated_at = $7
		WHERE id = $1`,
		businessID, v.Presence, v.WebsiteURL, v.Confidence,
		v.SignalsUsable, v.SignalsQueried, v.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("business %s: %w", businessID, verify.ErrNotFound)
	}
	return nil
}

// AppendWebsiteCheck inserts one immutable probe audit record.
func (s *Store) AppendWebsiteCheck(ctx context.Context, check verify.WebsiteCheck) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO website_checks (id, business_id, check_type, url_checked, outcome,
			contribution, status_code, latency_ms, detail, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		check.ID, check.BusinessID, check.Check, check.URLChecked, check.Outcome,
		check.Contribution, check.StatusCode, check.Latency.Milliseconds(),
		check.Detail, check.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("append website check: %w", err)
	}
	return nil
}

// ListWebsiteChecks returns a business's audit trail in insertion order.
func (s *Store) ListWebsiteChecks(ctx context.Context, businessID string) ([]verify.WebsiteCheck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, business_id, check_type, url_checked, outcome,
			contribution, status_code, latency_ms, detail, checked_at
		FROM website_checks
		WHERE business_id = $1
		ORDER BY checked_at, id`, businessID)
	if err != nil {
		return nil, fmt.Errorf("list website checks: %w", err)
	}
	defer rows.Close()

	var checks []verify.WebsiteCheck
	for rows.Next() {
		var (
			c         verify.WebsiteCheck
			latencyMS int64
		)
		err := rows.Scan(
			&c.ID, &c.BusinessID, &c.Check, &c.URLChecked, &c.Outcome,
			&c.Contribution, &c.StatusCode, &latencyMS, &c.Detail, &c.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan website check: %w", err)
		}
		c.Latency = time.Duration(latencyMS) * time.Millisecond
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate website checks: %w", err)
	}
	return checks, nil
}
