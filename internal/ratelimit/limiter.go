// Package ratelimit implements the global token bucket shared by all
// collector probes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/zzpscan/presence-verifier/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	RPS     float64
	Burst   int
	MaxWait time.Duration
}

// Limiter bounds the aggregate outbound probe rate across all workers. A
// worker that cannot obtain a token within MaxWait gets an error instead of
// queueing unboundedly.
type Limiter struct {
	bucket  *rate.Limiter
	maxWait time.Duration
}

// New creates a new Limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}
	return &Limiter{
		bucket:  rate.NewLimiter(r, burst),
		maxWait: maxWait,
	}
}

// Acquire blocks until a token is available, the bounded wait elapses, or the
// context is canceled.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	start := time.Now()
	if err := l.bucket.Wait(waitCtx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(delay)
	}
	return nil
}
