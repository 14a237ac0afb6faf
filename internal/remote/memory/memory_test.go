package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/remote"
	"github.com/AriceNn/MonEra-sub000/internal/remote/remotetest"
)

func TestRemote(t *testing.T) {
	remotetest.Run(t, New(), "user-1")
}

func TestFailureInjection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := New()
	r.FailUpsert("bad", true)
	require.ErrorIs(t, r.UpsertTransaction(ctx, remote.TransactionRow{ID: "bad", UserID: "u"}), ErrInjected)
	require.NoError(t, r.UpsertTransaction(ctx, remote.TransactionRow{ID: "good", UserID: "u"}))
	require.Equal(t, 1, r.Upserts())

	r.FailUpsert("bad", false)
	require.NoError(t, r.UpsertTransaction(ctx, remote.TransactionRow{ID: "bad", UserID: "u"}))

	r.FailFetch(true)
	_, err := r.FetchTransactions(ctx, "u")
	require.ErrorIs(t, err, ErrInjected)
}
