// Package engine implements the verification unit: one business in, one
// presence decision out.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zzpscan/presence-verifier/internal/metrics"
	"github.com/zzpscan/presence-verifier/internal/verify"
)

// Config controls Unit behavior.
type Config struct {
	ProbeTimeout time.Duration
	Topic        string
}

// probeGrace bounds how long the unit waits past the per-probe timeout for
// a collector that ignores its context.
const probeGrace = 2 * time.Second

// Unit runs every collector against one business, scores the signals and
// persists the outcome. Collector failures degrade the evidence, never the
// run; the only fatal paths are loading and storing the business itself.
type Unit struct {
	collectors []verify.Collector
	store      verify.Store
	publisher  verify.Publisher
	clock      verify.Clock
	idGen      verify.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Unit.
func New(
	collectors []verify.Collector,
	store verify.Store,
	publisher verify.Publisher,
	clock verify.Clock,
	idGen verify.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Unit {
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unit{
		collectors: collectors,
		store:      store,
		publisher:  publisher,
		clock:      clock,
		idGen:      idGen,
		cfg:        cfg,
		logger:     logger,
	}
}

// outcomeEvent is the payload published per verification run.
type outcomeEvent struct {
	BusinessID string          `json:"business_id"`
	Presence   verify.Presence `json:"presence"`
	Confidence float64         `json:"confidence"`
	WebsiteURL string          `json:"website_url,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// Verify runs the full pipeline for one business and returns the reconciled
// verdict. The returned error is the item-level failure the caller counts
// against the job.
func (u *Unit) Verify(ctx context.Context, businessID string) (verify.Verdict, error) {
	business, err := u.store.GetBusiness(ctx, businessID)
	if err != nil {
		return verify.Verdict{}, fmt.Errorf("load business %s: %w", businessID, err)
	}

	signals := u.collect(ctx, business)
	checkedAt := u.clock.Now()

	for _, s := range signals {
		metrics.ObserveCheck(string(s.Check), string(s.Outcome))
		u.recordCheck(ctx, businessID, s, checkedAt)
	}

	verdict := verify.Reconcile(business, verify.Score(signals))
	metrics.ObserveConfidence(verdict.Confidence)

	err = u.store.UpsertBusinessVerification(ctx, businessID, verify.Verification{
		Presence:       verdict.Presence,
		WebsiteURL:     verdict.WebsiteURL,
		Confidence:     verdict.Confidence,
		SignalsUsable:  verdict.Usable,
		SignalsQueried: verdict.Queried,
		CheckedAt:      checkedAt,
	})
	if err != nil {
		return verify.Verdict{}, fmt.Errorf("store verification %s: %w", businessID, err)
	}

	u.publish(ctx, businessID, verdict, checkedAt)
	return verdict, nil
}

// collect fans out to every collector concurrently. Each probe gets its own
// timeout; a collector that also ignores the grace period is abandoned and
// recorded as an error signal so the scorer still sees a full query set.
func (u *Unit) collect(ctx context.Context, business verify.Business) []verify.Signal {
	type probeResult struct {
		idx    int
		signal verify.Signal
	}

	results := make(chan probeResult, len(u.collectors))
	for i, collector := range u.collectors {
		go func(idx int, c verify.Collector) {
			probeCtx, cancel := context.WithTimeout(ctx, u.cfg.ProbeTimeout)
			defer cancel()
			results <- probeResult{idx: idx, signal: c.Probe(probeCtx, business)}
		}(i, collector)
	}

	deadline := time.NewTimer(u.cfg.ProbeTimeout + probeGrace)
	defer deadline.Stop()

	signals := make([]verify.Signal, len(u.collectors))
	received := make([]bool, len(u.collectors))
	pending := len(u.collectors)
	for pending > 0 {
		select {
		case res := <-results:
			signals[res.idx] = res.signal
			received[res.idx] = true
			pending--
		case <-deadline.C:
			pending = 0
		}
	}

	for i, ok := range received {
		if ok {
			continue
		}
		check := u.collectors[i].Type()
		u.logger.Warn("collector ignored deadline",
			zap.String("business_id", business.ID),
			zap.String("check", string(check)),
		)
		signals[i] = verify.Signal{
			Check:   check,
			Outcome: verify.OutcomeError,
			Detail:  "collector timed out",
			Latency: u.cfg.ProbeTimeout + probeGrace,
		}
	}
	return signals
}

// recordCheck appends the immutable audit row for one probe. Audit failures
// are logged and dropped; they never fail the item.
func (u *Unit) recordCheck(ctx context.Context, businessID string, s verify.Signal, checkedAt time.Time) {
	id, err := u.idGen.NewID()
	if err != nil {
		u.logger.Warn("generate check id", zap.Error(err))
		return
	}
	check := verify.WebsiteCheck{
		ID:           id,
		BusinessID:   businessID,
		Check:        s.Check,
		URLChecked:   s.URL,
		Outcome:      s.Outcome,
		Contribution: verify.Contribution(s),
		StatusCode:   s.StatusCode,
		Latency:      s.Latency,
		Detail:       s.Detail,
		CheckedAt:    checkedAt,
	}
	if err := u.store.AppendWebsiteCheck(ctx, check); err != nil {
		u.logger.Warn("append website check",
			zap.String("business_id", businessID),
			zap.String("check", string(s.Check)),
			zap.Error(err),
		)
	}
}

// publish pushes the outcome event. The verification is already persisted,
// so a publish failure is logged and dropped.
func (u *Unit) publish(ctx context.Context, businessID string, v verify.Verdict, checkedAt time.Time) {
	if u.publisher == nil || u.cfg.Topic == "" {
		return
	}
	event := outcomeEvent{
		BusinessID: businessID,
		Presence:   v.Presence,
		Confidence: v.Confidence,
		WebsiteURL: v.WebsiteURL,
		CheckedAt:  checkedAt,
	}
	if _, err := u.publisher.Publish(ctx, u.cfg.Topic, event); err != nil {
		u.logger.Warn("publish outcome",
			zap.String("business_id", businessID),
			zap.Error(err),
		)
	}
}
