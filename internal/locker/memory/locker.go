// Package memory provides an in-process business locker.
package memory

import (
	"context"
	"sync"
)

// Locker serializes verification per business within a single process. Lock
// state is a plain set; TryLock is a check-and-set under one mutex.
type Locker struct {
	mu     sync.Mutex
	locked map[string]struct{}
}

// New creates a new Locker.
func New() *Locker {
	return &Locker{locked: make(map[string]struct{})}
}

// TryLock marks the business as in flight. It returns false without blocking
// when another worker already holds the lock.
func (l *Locker) TryLock(_ context.Context, businessID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locked[businessID]; held {
		return false, nil
	}
	l.locked[businessID] = struct{}{}
	return true, nil
}

// Unlock clears the in-flight marker. Unlocking an unheld lock is a no-op.
func (l *Locker) Unlock(_ context.Context, businessID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locked, businessID)
	return nil
}
