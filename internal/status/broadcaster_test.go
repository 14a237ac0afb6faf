package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster("idle")
	require.Equal(t, "idle", b.Current())

	var first, second []string
	unsubscribe := b.Subscribe(func(s string) { first = append(first, s) })
	b.Subscribe(func(s string) { second = append(second, s) })

	b.Publish("syncing")
	unsubscribe()
	unsubscribe()
	b.Publish("done")

	require.Equal(t, []string{"syncing"}, first)
	require.Equal(t, []string{"syncing", "done"}, second)
	require.Equal(t, "done", b.Current())
}

func TestBroadcaster_Update(t *testing.T) {
	b := NewBroadcaster(1)
	var seen []int
	b.Subscribe(func(v int) { seen = append(seen, v) })

	got := b.Update(func(v int) int { return v + 1 })
	require.Equal(t, 2, got)
	require.Equal(t, []int{2}, seen)
}
