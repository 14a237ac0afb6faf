package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/remote/remotetest"
)

func TestRemote(t *testing.T) {
	uri := os.Getenv("MONERA_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MONERA_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r, err := Open(ctx, uri, "monera_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	defer func() {
		_ = r.transactions.Database().Drop(context.Background())
		r.Close()
	}()

	remotetest.Run(t, r, "user-1")
}

func TestOptionalDates(t *testing.T) {
	d, err := parseOptDate("")
	require.NoError(t, err)
	require.Nil(t, d)

	d, err = parseOptDate("2024-02-29")
	require.NoError(t, err)
	require.Equal(t, "2024-02-29", optDate(d))

	_, err = parseOptDate("2024-02-30x")
	require.Error(t, err)
}
