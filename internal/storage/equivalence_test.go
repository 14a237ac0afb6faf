package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/kv/inmemory"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
	"github.com/AriceNn/MonEra-sub000/internal/storage/flatstore"
	"github.com/AriceNn/MonEra-sub000/internal/storage/sqlstore"
)

// fixedClock hands out strictly increasing millisecond timestamps so both
// backends stamp identical times for the same operation sequence.
func fixedClock() func() time.Time {
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// TestAdapterEquivalence replays one random operation sequence against both
// backends and requires every query to return the same records in the same
// order.
func TestAdapterEquivalence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	structured, err := sqlstore.Open(ctx, filepath.Join(t.TempDir(), "eq.db"), sqlstore.WithClock(fixedClock()))
	require.NoError(t, err)
	defer structured.Close()
	flat := flatstore.New(inmemory.NewStore(), flatstore.WithClock(fixedClock()))

	adapters := []storage.Adapter{structured, flat}

	rng := rand.New(rand.NewSource(42))
	categories := []string{"Food", "Transport", "Salary", "Goal"}
	base := civil.Date{Year: 2024, Month: time.January, Day: 1}

	apply := func(op func(a storage.Adapter) error) {
		var errs []string
		for _, a := range adapters {
			err := op(a)
			errs = append(errs, fmt.Sprint(err != nil))
		}
		require.Equal(t, errs[0], errs[1], "backends disagree on success")
	}

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("t%03d", rng.Intn(60))
		switch rng.Intn(4) {
		case 0, 1:
			tx := domain.Transaction{
				ID:       id,
				Title:    "tx " + id,
				Amount:   decimal.New(rng.Int63n(100000), -2),
				Category: categories[rng.Intn(len(categories))],
				Date:     base.AddDays(rng.Intn(120)),
				Type:     domain.TransactionTypes[rng.Intn(len(domain.TransactionTypes))],
			}
			apply(func(a storage.Adapter) error {
				_, err := a.AddTransaction(ctx, tx)
				return err
			})
		case 2:
			patch := domain.TransactionPatch{Category: domain.Ptr(categories[rng.Intn(len(categories))])}
			apply(func(a storage.Adapter) error {
				_, err := a.UpdateTransaction(ctx, id, patch)
				return err
			})
		case 3:
			apply(func(a storage.Adapter) error {
				return a.DeleteTransaction(ctx, id)
			})
		}

		if i%3 == 0 {
			rid := fmt.Sprintf("r%02d", rng.Intn(15))
			switch rng.Intn(4) {
			case 0, 1:
				start := base.AddDays(rng.Intn(90))
				r := domain.RecurringTemplate{
					ID:        rid,
					Title:     "rent " + rid,
					Amount:    decimal.New(rng.Int63n(200000), -2),
					Category:  categories[rng.Intn(len(categories))],
					Type:      domain.TypeExpense,
					Frequency: domain.Frequencies[rng.Intn(len(domain.Frequencies))],
					StartDate: start,
					IsActive:  rng.Intn(4) != 0,
				}
				if rng.Intn(3) == 0 {
					end := start.AddDays(rng.Intn(200))
					r.EndDate = &end
				}
				apply(func(a storage.Adapter) error {
					_, err := a.AddRecurring(ctx, r)
					return err
				})
			case 2:
				patch := domain.RecurringPatch{
					NextOccurrence: domain.Ptr(base.AddDays(rng.Intn(150))),
					IsActive:       domain.Ptr(rng.Intn(2) == 0),
				}
				apply(func(a storage.Adapter) error {
					_, err := a.UpdateRecurring(ctx, rid, patch)
					return err
				})
			case 3:
				apply(func(a storage.Adapter) error {
					return a.DeleteRecurring(ctx, rid)
				})
			}
		}

		if i%40 == 0 {
			settings := domain.DefaultSettings()
			settings.Currency = []string{"USD", "EUR", "TRY"}[rng.Intn(3)]
			settings.Theme = domain.ThemeDark
			settings.AutoSync = rng.Intn(2) == 0
			apply(func(a storage.Adapter) error {
				return a.SaveSettings(ctx, settings)
			})
		}

		if i%5 == 0 {
			b := domain.Budget{
				ID:             fmt.Sprintf("b%02d", rng.Intn(10)),
				Category:       categories[rng.Intn(len(categories))],
				MonthlyLimit:   decimal.NewFromInt(rng.Int63n(1000)),
				AlertThreshold: rng.Intn(101),
				IsActive:       rng.Intn(2) == 0,
			}
			apply(func(a storage.Adapter) error {
				_, err := a.AddBudget(ctx, b)
				return err
			})
		}
	}

	queries := map[string]func(a storage.Adapter) (any, error){
		"all": func(a storage.Adapter) (any, error) { return a.GetAllTransactions(ctx) },
		"range": func(a storage.Adapter) (any, error) {
			return a.GetTransactionsByDateRange(ctx, base.AddDays(10), base.AddDays(40))
		},
		"month":    func(a storage.Adapter) (any, error) { return a.GetTransactionsByMonth(ctx, 2, 2024) },
		"category": func(a storage.Adapter) (any, error) { return a.GetTransactionsByCategory(ctx, "Food") },
		"type":     func(a storage.Adapter) (any, error) { return a.GetTransactionsByType(ctx, domain.TypeExpense) },
		"category+type": func(a storage.Adapter) (any, error) {
			return a.GetTransactionsByCategoryAndType(ctx, "Goal", domain.TypeSavings)
		},
		"budgets":        func(a storage.Adapter) (any, error) { return a.GetAllBudgets(ctx) },
		"active budgets": func(a storage.Adapter) (any, error) { return a.GetActiveBudgets(ctx) },
		"stats":          func(a storage.Adapter) (any, error) { return a.GetStats(ctx) },
		"recurring":      func(a storage.Adapter) (any, error) { return a.GetAllRecurring(ctx) },
		"active recurring": func(a storage.Adapter) (any, error) {
			return a.GetActiveRecurring(ctx)
		},
		"due recurring": func(a storage.Adapter) (any, error) {
			return a.GetDueRecurring(ctx, base.AddDays(60))
		},
		"settings": func(a storage.Adapter) (any, error) { return a.GetSettings(ctx) },
	}

	for name, query := range queries {
		t.Run(name, func(t *testing.T) {
			want, err := query(structured)
			require.NoError(t, err)
			got, err := query(flat)
			require.NoError(t, err)
			require.JSONEq(t, mustJSON(t, want), mustJSON(t, got))
		})
	}
}
