package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatorhq/curator/pkg/storage"
)

func newTestManager() (*Manager, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewManager(store, storage.ContainerProcessed), store
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	res, err := m.Acquire(ctx, "t1", "proc-a", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), res.ExpiresAt, 5*time.Second)

	// Second holder is refused and told who owns it.
	res, err = m.Acquire(ctx, "t1", "proc-b", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "proc-a", res.AlreadyHeldBy)

	// Release by the wrong holder is a no-op.
	require.NoError(t, m.Release(ctx, "t1", "proc-b"))
	res, err = m.Acquire(ctx, "t1", "proc-b", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.OK)

	// Release by the owner frees it.
	require.NoError(t, m.Release(ctx, "t1", "proc-a"))
	res, err = m.Acquire(ctx, "t1", "proc-b", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestAcquireExpiredLease(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	res, err := m.Acquire(ctx, "t1", "proc-a", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, res.OK)

	// Advance the clock past expiry; the stale lease is treated as absent.
	m.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	res, err = m.Acquire(ctx, "t1", "proc-b", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.OK, "expired lease must be claimable")
}

func TestAcquireRace(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	const holders = 8
	var wg sync.WaitGroup
	wins := make(chan string, holders)

	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			res, err := m.Acquire(ctx, "contested", string(rune('a'+id)), time.Minute)
			if err == nil && res.OK {
				wins <- string(rune('a' + id))
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	assert.Len(t, winners, 1, "exactly one holder wins the conditional create")
}

func TestReleaseMissingLease(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	assert.NoError(t, m.Release(ctx, "never-acquired", "proc-a"))
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	res, err := m.Acquire(ctx, "t1", "proc-a", time.Minute)
	require.NoError(t, err)
	require.True(t, res.OK)

	require.NoError(t, m.Heartbeat(ctx, "t1", "proc-a", 10*time.Minute))

	// A non-holder heartbeat is refused.
	err = m.Heartbeat(ctx, "t1", "proc-b", 10*time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
}
