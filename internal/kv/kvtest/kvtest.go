// Package kvtest holds the behaviour every kv.Store implementation must show.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/kv"
)

// Run exercises store against the kv.Store contract. The store must start
// empty.
func Run(t *testing.T, store kv.Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "monera.missing")
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("set get overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, kv.KeyTransactions, []byte(`[1]`)))
		got, err := store.Get(ctx, kv.KeyTransactions)
		require.NoError(t, err)
		require.Equal(t, `[1]`, string(got))

		require.NoError(t, store.Set(ctx, kv.KeyTransactions, []byte(`[1,2]`)))
		got, err = store.Get(ctx, kv.KeyTransactions)
		require.NoError(t, err)
		require.Equal(t, `[1,2]`, string(got))
	})

	t.Run("returned bytes are a copy", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, kv.KeyBudgets, []byte(`abc`)))
		got, err := store.Get(ctx, kv.KeyBudgets)
		require.NoError(t, err)
		got[0] = 'x'
		again, err := store.Get(ctx, kv.KeyBudgets)
		require.NoError(t, err)
		require.Equal(t, `abc`, string(again))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, kv.KeySettings, []byte(`{}`)))
		require.NoError(t, store.Delete(ctx, kv.KeySettings))
		require.NoError(t, store.Delete(ctx, kv.KeySettings))
		_, err := store.Get(ctx, kv.KeySettings)
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("set if absent", func(t *testing.T) {
		key := kv.KeyLeasePrefix + "setnx"
		ok, err := store.SetNX(ctx, key, []byte(`first`))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.SetNX(ctx, key, []byte(`second`))
		require.NoError(t, err)
		require.False(t, ok)
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, `first`, string(got))

		require.NoError(t, store.Delete(ctx, key))
	})

	t.Run("compare and delete", func(t *testing.T) {
		key := kv.KeyLeasePrefix + "cad"
		ok, err := store.CompareAndDelete(ctx, key, []byte(`v1`))
		require.NoError(t, err)
		require.False(t, ok, "missing key")

		require.NoError(t, store.Set(ctx, key, []byte(`v1`)))
		ok, err = store.CompareAndDelete(ctx, key, []byte(`v0`))
		require.NoError(t, err)
		require.False(t, ok)
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, `v1`, string(got), "mismatched value is kept")

		ok, err = store.CompareAndDelete(ctx, key, []byte(`v1`))
		require.NoError(t, err)
		require.True(t, ok)
		_, err = store.Get(ctx, key)
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, kv.KeyLeasePrefix+"sync", []byte(`{}`)))
		require.NoError(t, store.Set(ctx, kv.KeyLeasePrefix+"migration", []byte(`{}`)))

		keys, err := store.Keys(ctx, kv.KeyLeasePrefix)
		require.NoError(t, err)
		require.Equal(t, []string{kv.KeyLeasePrefix + "migration", kv.KeyLeasePrefix + "sync"}, keys)
	})
}
