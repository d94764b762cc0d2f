package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(clock.NewMock())

	release, err := l.TryLock(ctx, "merge:r1", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "merge:r1", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	// other keys are independent
	other, err := l.TryLock(ctx, "merge:r2", time.Minute)
	require.NoError(t, err)
	other()

	locked, _ := l.IsLocked(ctx, "merge:r1")
	assert.True(t, locked)

	release()
	release()
	locked, _ = l.IsLocked(ctx, "merge:r1")
	assert.False(t, locked)

	_, err = l.TryLock(ctx, "merge:r1", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	l := NewMemory(mock)

	staleRelease, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)

	mock.Add(2 * time.Second)
	locked, _ := l.IsLocked(ctx, "k")
	assert.False(t, locked)

	_, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	// the expired holder must not release the new holder's lock
	staleRelease()
	locked, _ = l.IsLocked(ctx, "k")
	assert.True(t, locked)
}

func TestMemoryConcurrentTryLock(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(clock.New())

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryLock(ctx, "k", time.Minute); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
