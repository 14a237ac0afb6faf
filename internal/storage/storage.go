// Package storage defines the persistence contract shared by the structured
// and flat backends.
package storage

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
)

// Backend identifies a storage implementation.
type Backend string

const (
	BackendStructured Backend = "structured"
	BackendFlat       Backend = "flat"
)

// TransactionStore covers the transaction family.
type TransactionStore interface {
	// AddTransaction stores tx and returns it with id and timestamps filled in.
	AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	// UpdateTransaction applies patch to the stored record. Returns ErrNotFound
	// when no record has that id.
	UpdateTransaction(ctx context.Context, id string, patch domain.TransactionPatch) (domain.Transaction, error)

	// DeleteTransaction removes a record. Deleting a missing id is not an error.
	DeleteTransaction(ctx context.Context, id string) error

	// GetTransaction returns nil and no error when the id is unknown.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	GetAllTransactions(ctx context.Context) ([]domain.Transaction, error)

	// GetTransactionsByDateRange returns records with from <= date <= to.
	GetTransactionsByDateRange(ctx context.Context, from, to civil.Date) ([]domain.Transaction, error)
	GetTransactionsByCategory(ctx context.Context, category string) ([]domain.Transaction, error)
	GetTransactionsByType(ctx context.Context, typ domain.TransactionType) ([]domain.Transaction, error)
	GetTransactionsByCategoryAndType(ctx context.Context, category string, typ domain.TransactionType) ([]domain.Transaction, error)

	// GetTransactionsByMonth takes a 1-based month.
	GetTransactionsByMonth(ctx context.Context, month, year int) ([]domain.Transaction, error)

	// GetTransactionsByRecurringID returns the instances generated from one template.
	GetTransactionsByRecurringID(ctx context.Context, recurringID string) ([]domain.Transaction, error)
}

// BudgetStore covers the budget family.
type BudgetStore interface {
	AddBudget(ctx context.Context, b domain.Budget) (domain.Budget, error)
	UpdateBudget(ctx context.Context, id string, patch domain.BudgetPatch) (domain.Budget, error)
	DeleteBudget(ctx context.Context, id string) error
	GetBudget(ctx context.Context, id string) (*domain.Budget, error)
	GetAllBudgets(ctx context.Context) ([]domain.Budget, error)
	GetBudgetsByCategory(ctx context.Context, category string) ([]domain.Budget, error)
	GetActiveBudgets(ctx context.Context) ([]domain.Budget, error)
}

// RecurringStore covers recurring templates.
type RecurringStore interface {
	AddRecurring(ctx context.Context, r domain.RecurringTemplate) (domain.RecurringTemplate, error)
	UpdateRecurring(ctx context.Context, id string, patch domain.RecurringPatch) (domain.RecurringTemplate, error)
	DeleteRecurring(ctx context.Context, id string) error
	GetRecurring(ctx context.Context, id string) (*domain.RecurringTemplate, error)
	GetAllRecurring(ctx context.Context) ([]domain.RecurringTemplate, error)
	GetActiveRecurring(ctx context.Context) ([]domain.RecurringTemplate, error)

	// GetDueRecurring returns active templates whose next occurrence is on
	// or before asOf. End dates are left to the scheduler.
	GetDueRecurring(ctx context.Context, asOf civil.Date) ([]domain.RecurringTemplate, error)
}

// SettingsStore covers the settings singleton.
type SettingsStore interface {
	// GetSettings returns DefaultSettings when nothing was saved.
	GetSettings(ctx context.Context) (domain.Settings, error)
	SaveSettings(ctx context.Context, s domain.Settings) error
	UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error)
}

// Adapter is the full storage contract. Both backends must return identical
// results for identical stored data; lists come back in the canonical order
// defined by the domain package.
type Adapter interface {
	TransactionStore
	BudgetStore
	RecurringStore
	SettingsStore

	// ExportAll returns the whole dataset.
	ExportAll(ctx context.Context) (domain.Snapshot, error)

	// ImportAll replaces the whole dataset with snap.
	ImportAll(ctx context.Context, snap domain.Snapshot) error

	ClearAll(ctx context.Context) error
	GetStats(ctx context.Context) (domain.Stats, error)

	Backend() Backend
	Close() error
}
