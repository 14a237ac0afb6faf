// Package storagetest holds the behaviour both storage backends must share,
// plus fixtures used by the packages built on top of them.
package storagetest

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// Factory returns a fresh, empty adapter.
type Factory func(t *testing.T) storage.Adapter

// Date parses YYYY-MM-DD or fails the test.
func Date(t testing.TB, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	require.NoError(t, err)
	return d
}

// Transaction builds a valid expense.
func Transaction(t testing.TB, id, date, category string, typ domain.TransactionType, amount string) domain.Transaction {
	t.Helper()
	return domain.Transaction{
		ID:       id,
		Title:    "tx " + id,
		Amount:   decimal.RequireFromString(amount),
		Category: category,
		Date:     Date(t, date),
		Type:     typ,
	}
}

// Budget builds an active budget.
func Budget(id, category string) domain.Budget {
	return domain.Budget{
		ID:             id,
		Category:       category,
		MonthlyLimit:   decimal.NewFromInt(500),
		AlertThreshold: 80,
		IsActive:       true,
		Currency:       "USD",
	}
}

// Recurring builds an active monthly template starting at start.
func Recurring(t testing.TB, id, start string) domain.RecurringTemplate {
	t.Helper()
	return domain.RecurringTemplate{
		ID:             id,
		Title:          "rent " + id,
		Amount:         decimal.NewFromInt(900),
		Category:       "Housing",
		Type:           domain.TypeExpense,
		Frequency:      domain.FrequencyMonthly,
		StartDate:      Date(t, start),
		NextOccurrence: Date(t, start),
		IsActive:       true,
	}
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	return out
}

// TxIDs lists transaction ids in order.
func TxIDs(txs []domain.Transaction) []string {
	return ids(txs, func(t domain.Transaction) string { return t.ID })
}

// BudgetIDs lists budget ids in order.
func BudgetIDs(budgets []domain.Budget) []string {
	return ids(budgets, func(b domain.Budget) string { return b.ID })
}

// RecurringIDs lists template ids in order.
func RecurringIDs(templates []domain.RecurringTemplate) []string {
	return ids(templates, func(r domain.RecurringTemplate) string { return r.ID })
}

// Run exercises a backend against the storage contract.
func Run(t *testing.T, newAdapter Factory) {
	ctx := func(t *testing.T) context.Context {
		c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		t.Cleanup(cancel)
		return c
	}

	t.Run("transaction crud", func(t *testing.T) {
		a := newAdapter(t)
		c := ctx(t)

		added, err := a.AddTransaction(c, Transaction(t, "", "2024-03-01", "Food", domain.TypeExpense, "12.50"))
		require.NoError(t, err)
		require.NotEmpty(t, added.ID)
		require.False(t, added.CreatedAt.IsZero())
		require.Equal(t, added.CreatedAt, added.UpdatedAt)

		got, err := a.GetTransaction(c, added.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, "Food", got.Category)
		require.True(t, got.Amount.Equal(decimal.RequireFromString("12.5")))

		updated, err := a.UpdateTransaction(c, added.ID, domain.TransactionPatch{Title: domain.Ptr("Dinner")})
		require.NoError(t, err)
		require.Equal(t, "Dinner", updated.Title)
		require.Equal(t, "Food", updated.Category)

		got, err = a.GetTransaction(c, added.ID)
		require.NoError(t, err)
		require.Equal(t, "Dinner", got.Title)

		require.NoError(t, a.DeleteTransaction(c, added.ID))
		require.NoError(t, a.DeleteTransaction(c, added.ID), "delete of a missing id is a no-op")

		got, err = a.GetTransaction(c, added.ID)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("transaction errors", func(t *testing.T) {
		a := newAdapter(t)
		c := ctx(t)

		_, err := a.UpdateTransaction(c, "missing", domain.TransactionPatch{Title: domain.Ptr("x")})
		require.ErrorIs(t, err, storage.ErrNotFound)
		var se *storage.Error
		require.ErrorAs(t, err, &se)
		require.Equal(t, a.Backend(), se.Backend)

		_, err = a.AddTransaction(c, Transaction(t, "t1", "2024-03-01", "Food", domain.TypeExpense, "-1"))
		require.ErrorIs(t, err, domain.ErrInvalidAmount)

		_, err = a.AddTransaction(c, Transaction(t, "t1", "2024-03-01", "Food", domain.TypeExpense, "1"))
		require.NoError(t, err)
		_, err = a.AddTransaction(c, Transaction(t, "t1", "2024-03-01", "Food", domain.TypeExpense, "1"))
		require.ErrorIs(t, err, storage.ErrDuplicateID)

		_, err = a.UpdateTransaction(c, "t1", domain.TransactionPatch{Type: domain.Ptr(domain.TransactionType("bogus"))})
		require.ErrorIs(t, err, domain.ErrInvalidType)
	})

	t.Run("transaction queries", func(t *testing.T) {
		a := newAdapter(t)
		c := ctx(t)

		seed := []domain.Transaction{
			Transaction(t, "a", "2024-01-31", "Food", domain.TypeExpense, "10"),
			Transaction(t, "b", "2024-02-01", "Food", domain.TypeExpense, "20"),
			Transaction(t, "c", "2024-02-29", "Salary", domain.TypeIncome, "3000"),
			Transaction(t, "d", "2024-03-01", "Food", domain.TypeIncome, "5"),
			Transaction(t, "e", "2024-02-15", "Goal", domain.TypeSavings, "100"),
		}
		seed[1].RecurringID = "r1"
		seed[1].IsRecurring = true
		for _, tx := range seed {
			_, err := a.AddTransaction(c, tx)
			require.NoError(t, err)
		}

		all, err := a.GetAllTransactions(c)
		require.NoError(t, err)
		require.Equal(t, []string{"d", "c", "e", "b", "a"}, TxIDs(all))

		inRange, err := a.GetTransactionsByDateRange(c, Date(t, "2024-02-01"), Date(t, "2024-02-29"))
		require.NoError(t, err)
		require.Equal(t, []string{"c", "e", "b"}, TxIDs(inRange), "both bounds are inclusive")

		month, err := a.GetTransactionsByMonth(c, 2, 2024)
		require.NoError(t, err)
		require.Equal(t, TxIDs(inRange), TxIDs(month))

		food, err := a.GetTransactionsByCategory(c, "Food")
		require.NoError(t, err)
		require.Equal(t, []string{"d", "b", "a"}, TxIDs(food))

		lower, err := a.GetTransactionsByCategory(c, "food")
		require.NoError(t, err)
		require.Empty(t, lower, "category match is exact")

		income, err := a.GetTransactionsByType(c, domain.TypeIncome)
		require.NoError(t, err)
		require.Equal(t, []string{"d", "c"}, TxIDs(income))

		foodExpense, err := a.GetTransactionsByCategoryAndType(c, "Food", domain.TypeExpense)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "a"}, TxIDs(foodExpense))

		generated, err := a.GetTransactionsByRecurringID(c, "r1")
		require.NoError(t, err)
		require.Equal(t, []string{"b"}, TxIDs(generated))
		require.True(t, generated[0].IsRecurring)

		empty, err := a.GetTransactionsByMonth(c, 7, 2030)
		require.NoError(t, err)
		require.NotNil(t, empty)
		require.Empty(t, empty)
	})

	t.Run("budgets", func(t *testing.T) {
		a := newAdapter(t)
		c := ctx(t)

		food, err := a.AddBudget(c, Budget("b1", "Food"))
		require.NoError(t, err)

		_, err = a.AddBudget(c, Budget("b2", "Food"))
		require.ErrorIs(t, err, domain.ErrDuplicateActiveBudget)

		inactive := Budget("b2", "Food")
		inactive.IsActive = false
		_, err = a.AddBudget(c, inactive)
		require.NoError(t, err)

		_, err = a.UpdateBudget(c, "b2", domain.BudgetPatch{IsActive: domain.Ptr(true)})
		require.ErrorIs(t, err, domain.ErrDuplicateActiveBudget)

		_, err = a.AddBudget(c, Budget("b3", "Travel"))
		require.NoError(t, err)

		updated, err := a.UpdateBudget(c, food.ID, domain.BudgetPatch{MonthlyLimit: domain.Ptr(decimal.NewFromInt(650))})
		require.NoError(t, err)
		require.True(t, updated.MonthlyLimit.Equal(decimal.NewFromInt(650)))

		all, err := a.GetAllBudgets(c)
		require.NoError(t, err)
		require.Equal(t, []string{"b1", "b2", "b3"}, BudgetIDs(all))

		active, err := a.GetActiveBudgets(c)
		require.NoError(t, err)
		require.Equal(t, []string{"b1", "b3"}, BudgetIDs(active))

		byCategory, err := a.GetBudgetsByCategory(c, "Food")
		require.NoError(t, err)
		require.Equal(t, []string{"b1", "b2"}, BudgetIDs(byCategory))

		_, err = a.UpdateBudget(c, "missing", domain.BudgetPatch{})
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, a.DeleteBudget(c, "b1"))
		got, err := a.GetBudget(c, "b1")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("recurring", func(t *testing.T) {
		a := newAdapter(t)
		c := ctx(t)

		r1 := Recurring(t, "r1", "2024-01-15")
		end := Date(t, "2024-12-31")
		r1.EndDate = &end
		_, err := a.AddRecurring(c, r1)
		require.NoError(t, err)

		r2 := Recurring(t, "r2", "2024-03-01")
		_, err = a.AddRecurring(c, r2)
		require.NoError(t, err)

		r3 := Recurring(t, "r3", "2024-01-01")
		r3.IsActive = false
		_, err = a.AddRecurring(c, r3)
		require.NoError(t, err)

		all, err := a.GetAllRecurring(c)
		require.NoError(t, err)
		require.Equal(t, []string{"r3", "r1", "r2"}, RecurringIDs(all))

		active, err := a.GetActiveRecurring(c)
		require.NoError(t, err)
		require.Equal(t, []string{"r1", "r2"}, RecurringIDs(active))

		due, err := a.GetDueRecurring(c, Date(t, "2024-03-01"))
		require.NoError(t, err)
		require.Equal(t, []string{"r1", "r2"}, RecurringIDs(due), "next occurrence equal to the date is due")

		due, err = a.GetDueRecurring(c, Date(t, "2024-02-29"))
		require.NoError(t, err)
		require.Equal(t, []string{"r1"}, RecurringIDs(due))

		last := Date(t, "2024-01-15")
		updated, err := a.UpdateRecurring(c, "r1", domain.RecurringPatch{
			LastGenerated:  &last,
			NextOccurrence: domain.Ptr(Date(t, "2024-02-15")),
			ClearEndDate:   true,
		})
		require.NoError(t, err)
		require.Nil(t, updated.EndDate)

		got, err := a.GetRecurring(c, "r1")
		require.NoError(t, err)
		require.NotNil(t, got.LastGenerated)
		require.Equal(t, last, *got.LastGenerated)
		require.Nil(t, got.EndDate)
		require.Equal(t, Date(t, "2024-02-15"), got.NextOccurrence)

		require.NoError(t, a.DeleteRecurring(c, "r1"))
		got, err = a.GetRecurring(c, "r1")
		require.NoError(t, err)
		require.Nil(t, got)

		// A template that already generated instances and arrives without a
		// next occurrence is not due again for those dates.
		imported := Recurring(t, "r9", "2024-01-31")
		imported.NextOccurrence = civil.Date{}
		imported.LastGenerated = domain.Ptr(Date(t, "2024-03-31"))
		added, err := a.AddRecurring(c, imported)
		require.NoError(t, err)
		require.Equal(t, Date(t, "2024-04-30"), added.NextOccurrence)
		due, err = a.GetDueRecurring(c, Date(t, "2024-04-15"))
		require.NoError(t, err)
		require.NotContains(t, RecurringIDs(due), "r9")
	})

	t.Run("settings", func(t *testing.T) {
		a := newAdapter(t)
		c := ctx(t)

		got, err := a.GetSettings(c)
		require.NoError(t, err)
		require.Equal(t, domain.DefaultSettings(), got)

		stats, err := a.GetStats(c)
		require.NoError(t, err)
		require.False(t, stats.HasSettings)

		updated, err := a.UpdateSettings(c, domain.SettingsPatch{Currency: domain.Ptr("EUR")})
		require.NoError(t, err)
		require.Equal(t, "EUR", updated.Currency)
		require.Equal(t, domain.DefaultSettings().Language, updated.Language)

		s := domain.DefaultSettings()
		s.Theme = domain.ThemeDark
		require.NoError(t, a.SaveSettings(c, s))
		got, err = a.GetSettings(c)
		require.NoError(t, err)
		require.Equal(t, domain.ThemeDark, got.Theme)
		require.Equal(t, "USD", got.Currency)

		stats, err = a.GetStats(c)
		require.NoError(t, err)
		require.True(t, stats.HasSettings)
	})

	t.Run("export import clear", func(t *testing.T) {
		a := newAdapter(t)
		c := ctx(t)

		_, err := a.AddTransaction(c, Transaction(t, "stale", "2020-01-01", "Food", domain.TypeExpense, "1"))
		require.NoError(t, err)

		settings := domain.DefaultSettings()
		settings.Currency = "IDR"
		snap := domain.Snapshot{
			Transactions: []domain.Transaction{
				Transaction(t, "t1", "2024-01-01", "Food", domain.TypeExpense, "1"),
				Transaction(t, "t2", "2024-01-02", "Salary", domain.TypeIncome, "2"),
			},
			Budgets:   []domain.Budget{Budget("b1", "Food")},
			Recurring: []domain.RecurringTemplate{Recurring(t, "r1", "2024-01-01")},
			Settings:  &settings,
			Version:   domain.SnapshotVersion,
		}
		now := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
		for i := range snap.Transactions {
			snap.Transactions[i].CreatedAt, snap.Transactions[i].UpdatedAt = now, now
		}
		snap.Budgets[0].CreatedAt, snap.Budgets[0].UpdatedAt = now, now
		snap.Recurring[0].CreatedAt, snap.Recurring[0].UpdatedAt = now, now

		require.NoError(t, a.ImportAll(c, snap))

		stats, err := a.GetStats(c)
		require.NoError(t, err)
		require.Equal(t, domain.Stats{Transactions: 2, Budgets: 1, Recurring: 1, HasSettings: true}, stats)

		stale, err := a.GetTransaction(c, "stale")
		require.NoError(t, err)
		require.Nil(t, stale, "import replaces the whole dataset")

		exported, err := a.ExportAll(c)
		require.NoError(t, err)
		require.Equal(t, []string{"t2", "t1"}, TxIDs(exported.Transactions))
		require.Equal(t, "IDR", exported.Settings.Currency)
		require.Equal(t, domain.SnapshotVersion, exported.Version)

		require.NoError(t, a.ClearAll(c))
		stats, err = a.GetStats(c)
		require.NoError(t, err)
		require.Equal(t, domain.Stats{}, stats)
	})
}
