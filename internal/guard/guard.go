// Package guard rejects overlapping runs of a long operation in one process.
package guard

import "sync"

// Guard pairs a lock flag with a processing flag. A second caller that
// arrives while a run is in flight is turned away, never queued.
type Guard struct {
	mu         sync.Mutex
	locked     bool
	processing bool
}

// TryEnter claims the guard. It returns false when a run is already active.
// Callers that get true must call Leave, normally via defer.
func (g *Guard) TryEnter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.locked || g.processing {
		return false
	}
	g.locked = true
	g.processing = true
	return true
}

// Leave releases the guard.
func (g *Guard) Leave() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.processing = false
	g.locked = false
}

// Busy reports whether a run is in flight.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked || g.processing
}
