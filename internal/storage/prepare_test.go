package storage_test

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
	"github.com/AriceNn/MonEra-sub000/internal/storage/storagetest"
)

func TestPrepareRecurring_NextOccurrence(t *testing.T) {
	at := func(s string) *civil.Date {
		d := storagetest.Date(t, s)
		return &d
	}
	tests := []struct {
		name string
		last *civil.Date
		next *civil.Date
		want string
	}{
		{"nothing generated starts at start", nil, nil, "2024-01-31"},
		{"generated template resumes after last", at("2024-03-31"), nil, "2024-04-30"},
		{"explicit next is kept", at("2024-03-31"), at("2024-06-30"), "2024-06-30"},
	}
	now := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := storagetest.Recurring(t, "r1", "2024-01-31")
			r.NextOccurrence = civil.Date{}
			r.LastGenerated = tt.last
			if tt.next != nil {
				r.NextOccurrence = *tt.next
			}

			got, err := storage.PrepareRecurring(r, now)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.NextOccurrence.String())
			require.True(t, got.CreatedAt.Equal(now))
		})
	}

	t.Run("invalid frequency still fails validation", func(t *testing.T) {
		r := storagetest.Recurring(t, "r1", "2024-01-31")
		r.NextOccurrence = civil.Date{}
		r.LastGenerated = at("2024-03-31")
		r.Frequency = "hourly"
		_, err := storage.PrepareRecurring(r, now)
		require.ErrorIs(t, err, domain.ErrInvalidFrequency)
	})
}
