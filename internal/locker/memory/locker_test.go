package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocker_TryLockExclusive(t *testing.T) {
	t.Parallel()

	l := New()
	ctx := context.Background()

	ok, err := l.TryLock(ctx, "biz-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.TryLock(ctx, "biz-1")
	require.NoError(t, err)
	require.False(t, ok)

	// A different business is unaffected.
	ok, err = l.TryLock(ctx, "biz-2")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Unlock(ctx, "biz-1"))
	ok, err = l.TryLock(ctx, "biz-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocker_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	l := New()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.TryLock(ctx, "biz-1")
			require.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestLocker_UnlockUnheldIsNoop(t *testing.T) {
	t.Parallel()

	l := New()
	require.NoError(t, l.Unlock(context.Background(), "missing"))
}
