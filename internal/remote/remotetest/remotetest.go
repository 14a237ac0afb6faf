// Package remotetest holds the behaviour every remote.Remote must share.
package remotetest

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/remote"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func transactionRow(id, userID string, created time.Time) remote.TransactionRow {
	return remote.TransactionRow{
		ID:        id,
		UserID:    userID,
		Title:     "Coffee " + id,
		Amount:    decimal.RequireFromString("4.50"),
		Category:  "Food",
		Type:      "expense",
		Date:      civil.Date{Year: 2024, Month: 3, Day: 1},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// Run exercises r. Each call should get a fresh, empty remote; userID keeps
// runs against shared servers apart.
func Run(t *testing.T, r remote.Remote, userID string) {
	t.Helper()

	t.Run("transactions upsert overwrites and fetch orders by creation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		require.NoError(t, r.UpsertTransaction(ctx, transactionRow("tx-b", userID, base)))
		require.NoError(t, r.UpsertTransaction(ctx, transactionRow("tx-a", userID, base)))
		require.NoError(t, r.UpsertTransaction(ctx, transactionRow("tx-c", userID, base.Add(-time.Hour))))

		updated := transactionRow("tx-b", userID, base)
		updated.Title = "Tea"
		updated.Amount = decimal.RequireFromString("3.25")
		updated.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, r.UpsertTransaction(ctx, updated))

		rows, err := r.FetchTransactions(ctx, userID)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, []string{"tx-c", "tx-a", "tx-b"}, []string{rows[0].ID, rows[1].ID, rows[2].ID})
		require.Equal(t, "Tea", rows[2].Title)
		require.True(t, rows[2].Amount.Equal(decimal.RequireFromString("3.25")))
		require.True(t, rows[2].UpdatedAt.Equal(base.Add(time.Minute)))
		require.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 1}, rows[2].Date)

		other, err := r.FetchTransactions(ctx, userID+"-other")
		require.NoError(t, err)
		require.Empty(t, other)

		require.NoError(t, r.DeleteTransaction(ctx, userID, "tx-a"))
		require.NoError(t, r.DeleteTransaction(ctx, userID, "missing"))
		rows, err = r.FetchTransactions(ctx, userID)
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})

	t.Run("recurring keeps nullable dates", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		end := civil.Date{Year: 2024, Month: 12, Day: 31}
		row := remote.RecurringRow{
			ID:             "rec-1",
			UserID:         userID,
			Title:          "Rent",
			Amount:         decimal.RequireFromString("1200"),
			Category:       "Housing",
			Type:           "expense",
			Frequency:      "monthly",
			StartDate:      civil.Date{Year: 2024, Month: 1, Day: 31},
			EndDate:        &end,
			NextOccurrence: civil.Date{Year: 2024, Month: 2, Day: 29},
			IsActive:       true,
			CreatedAt:      base,
			UpdatedAt:      base,
		}
		require.NoError(t, r.UpsertRecurring(ctx, row))

		rows, err := r.FetchRecurring(ctx, userID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.NotNil(t, rows[0].EndDate)
		require.Equal(t, end, *rows[0].EndDate)
		require.Nil(t, rows[0].LastGenerated)
		require.Equal(t, row.NextOccurrence, rows[0].NextOccurrence)

		require.NoError(t, r.DeleteRecurring(ctx, userID, "rec-1"))
		rows, err = r.FetchRecurring(ctx, userID)
		require.NoError(t, err)
		require.Empty(t, rows)
	})

	t.Run("budgets", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		row := remote.BudgetRow{
			ID:             "bud-1",
			UserID:         userID,
			Category:       "Food",
			MonthlyLimit:   decimal.RequireFromString("300"),
			AlertThreshold: 80,
			IsActive:       true,
			CreatedAt:      base,
			UpdatedAt:      base,
		}
		require.NoError(t, r.UpsertBudget(ctx, row))
		row.AlertThreshold = 90
		require.NoError(t, r.UpsertBudget(ctx, row))

		rows, err := r.FetchBudgets(ctx, userID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, 90, rows[0].AlertThreshold)

		require.NoError(t, r.DeleteBudget(ctx, userID, "bud-1"))
		rows, err = r.FetchBudgets(ctx, userID)
		require.NoError(t, err)
		require.Empty(t, rows)
	})
}
