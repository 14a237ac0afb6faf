package lease

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/kv/inmemory"
)

func TestManager_Acquire(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := inmemory.NewStore()
	a := NewManager(store, "process-a", time.Minute).WithClock(clock)
	b := NewManager(store, "process-b", time.Minute).WithClock(clock)

	release, err := a.Acquire(ctx, "migration")
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "migration")
	require.ErrorIs(t, err, ErrHeld)

	_, err = b.Acquire(ctx, "sync")
	require.NoError(t, err, "leases are independent by name")

	_, err = a.Acquire(ctx, "migration")
	require.NoError(t, err, "owner may renew its own lease")

	require.NoError(t, release(ctx))
	rec, err := a.Get(ctx, "migration")
	require.NoError(t, err)
	require.Nil(t, rec)

	_, err = b.Acquire(ctx, "migration")
	require.NoError(t, err)
}

func TestManager_ExpiredLeaseIsTakenOver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := inmemory.NewStore()
	a := NewManager(store, "process-a", time.Minute).WithClock(func() time.Time { return now })
	b := NewManager(store, "process-b", time.Minute).WithClock(func() time.Time { return now.Add(2 * time.Minute) })

	releaseA, err := a.Acquire(ctx, "sync")
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "sync")
	require.NoError(t, err)

	require.NoError(t, releaseA(ctx), "stale release does not remove the new owner's lease")
	rec, err := b.Get(ctx, "sync")
	require.NoError(t, err)
	require.Equal(t, "process-b", rec.Owner)
}

func TestManager_ConcurrentAcquireHasOneWinner(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name  string
		stale bool
	}{
		{"free lease", false},
		{"expired lease", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
			store := inmemory.NewStore()
			if tt.stale {
				old := NewManager(store, "crashed", time.Minute).WithClock(func() time.Time { return now.Add(-time.Hour) })
				_, err := old.Acquire(ctx, "sync")
				require.NoError(t, err)
			}

			const owners = 16
			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			for i := 0; i < owners; i++ {
				m := NewManager(store, fmt.Sprintf("process-%d", i), time.Minute).WithClock(func() time.Time { return now })
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := m.Acquire(ctx, "sync"); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			require.Equal(t, int32(1), wins.Load())
		})
	}
}
