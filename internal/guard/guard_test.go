package guard

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	var g Guard

	require.True(t, g.TryEnter())
	require.True(t, g.Busy())
	require.False(t, g.TryEnter(), "second entry is rejected")

	g.Leave()
	require.False(t, g.Busy())
	require.True(t, g.TryEnter(), "guard is reusable after Leave")
	g.Leave()
}

func TestGuard_Concurrent(t *testing.T) {
	var (
		g        Guard
		entered  atomic.Int32
		tried    atomic.Int32
		start    = make(chan struct{})
		release  = make(chan struct{})
		wg       sync.WaitGroup
		attempts = 20
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok := g.TryEnter()
			tried.Add(1)
			if ok {
				entered.Add(1)
				<-release
				g.Leave()
			}
		}()
	}
	close(start)
	require.Eventually(t, func() bool { return tried.Load() == int32(attempts) }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), entered.Load())
}
