// Package remote defines the authoritative cloud collections the sync engine
// reconciles against, and the row shapes stored there.
package remote

import (
	"context"
	"errors"
)

// ErrUnknownDriver reports an unsupported remote driver name.
var ErrUnknownDriver = errors.New("unknown remote driver")

// Remote is the network side of sync. Every call is scoped to one owner.
// Upserts are keyed by primary id and overwrite the whole row.
type Remote interface {
	UpsertTransaction(ctx context.Context, row TransactionRow) error
	FetchTransactions(ctx context.Context, userID string) ([]TransactionRow, error)
	DeleteTransaction(ctx context.Context, userID, id string) error

	UpsertRecurring(ctx context.Context, row RecurringRow) error
	FetchRecurring(ctx context.Context, userID string) ([]RecurringRow, error)
	DeleteRecurring(ctx context.Context, userID, id string) error

	UpsertBudget(ctx context.Context, row BudgetRow) error
	FetchBudgets(ctx context.Context, userID string) ([]BudgetRow, error)
	DeleteBudget(ctx context.Context, userID, id string) error

	Close() error
}
