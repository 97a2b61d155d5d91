package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/zzpscan/presence-verifier/internal/metrics"
)

func TestLimiter_Acquire(t *testing.T) {
	metrics.Init()

	// 10 RPS with burst 1: the first token is free, the second arrives
	// after ~100ms.
	l := New(Config{RPS: 10, Burst: 1, MaxWait: time.Second})

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_BoundedWait(t *testing.T) {
	metrics.Init()

	// 1 token every 10s, so the second acquire cannot succeed within the
	// 50ms bound.
	l := New(Config{RPS: 0.1, Burst: 1, MaxWait: 50 * time.Millisecond})

	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected bounded wait to fail")
	}
	if dur := time.Since(start); dur > 500*time.Millisecond {
		t.Errorf("bounded wait took too long: %v", dur)
	}
}

func TestLimiter_UnlimitedWhenRPSZero(t *testing.T) {
	metrics.Init()

	l := New(Config{})
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestLimiter_CanceledContext(t *testing.T) {
	metrics.Init()

	l := New(Config{RPS: 0.1, Burst: 1, MaxWait: 10 * time.Second})
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := l.Acquire(canceled); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
