package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/kv/kvtest"
)

// Runs against a real server only when MONERA_TEST_REDIS_URL is set. The
// selected database is flushed.
func TestStore(t *testing.T) {
	url := os.Getenv("MONERA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("MONERA_TEST_REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, url)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.client.FlushDB(ctx).Err())

	kvtest.Run(t, store)
}
