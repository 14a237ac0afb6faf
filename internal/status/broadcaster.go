// Package status fans state changes out to subscribers.
package status

import "sync"

// Broadcaster holds the latest value of T and notifies subscribers of every
// change. Subscribers are called synchronously, in subscription order, and
// must not block.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	current T
	nextID  int
	subs    map[int]func(T)
	order   []int
}

// NewBroadcaster starts with initial as the current value.
func NewBroadcaster[T any](initial T) *Broadcaster[T] {
	return &Broadcaster[T]{current: initial, subs: make(map[int]func(T))}
}

// Current returns the latest published value.
func (b *Broadcaster[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish stores v and calls every subscriber with it.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	b.current = v
	fns := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Update applies fn to the current value and publishes the result.
func (b *Broadcaster[T]) Update(fn func(T) T) T {
	b.mu.Lock()
	next := fn(b.current)
	b.mu.Unlock()
	b.Publish(next)
	return next
}
