// Package redis provides a Redis-backed business locker for multi-instance
// deployments.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "verify:lock:"

// Locker serializes verification per business across verifier instances.
// SET NX with a TTL is the check-and-set; the TTL bounds how long a crashed
// worker can hold a business hostage.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Locker. A non-positive TTL defaults to one minute.
func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Locker{client: client, ttl: ttl}
}

func lockKey(businessID string) string {
	return lockKeyPrefix + businessID
}

// TryLock attempts to acquire the business lock without blocking.
func (l *Locker) TryLock(ctx context.Context, businessID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(businessID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", businessID, err)
	}
	return ok, nil
}

// Unlock releases the business lock. Deleting a missing key is a no-op.
func (l *Locker) Unlock(ctx context.Context, businessID string) error {
	if err := l.client.Del(ctx, lockKey(businessID)).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", businessID, err)
	}
	return nil
}
