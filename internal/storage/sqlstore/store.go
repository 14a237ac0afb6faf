package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// Store implements storage.Adapter over SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New wraps an already migrated database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: domain.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Backend() storage.Backend {
	return storage.BackendStructured
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) wrap(op string, err error) error {
	return storage.Wrap(storage.BackendStructured, op, err)
}

// ---- transactions ----

func (s *Store) AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	tx, err := storage.PrepareTransaction(tx, s.now())
	if err != nil {
		return domain.Transaction{}, s.wrap("AddTransaction", err)
	}
	err = withTx(ctx, s.db, func(q *sql.Tx) error {
		existing, err := getTransaction(ctx, q, tx.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateID, tx.ID)
		}
		return insertTransaction(ctx, q, tx)
	})
	if err != nil {
		return domain.Transaction{}, s.wrap("AddTransaction", err)
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, id string, patch domain.TransactionPatch) (domain.Transaction, error) {
	var updated domain.Transaction
	err := withTx(ctx, s.db, func(q *sql.Tx) error {
		current, err := getTransaction(ctx, q, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: transaction %s", storage.ErrNotFound, id)
		}
		updated = patch.Apply(*current, s.now())
		if err := updated.Validate(); err != nil {
			return err
		}
		return updateTransactionRow(ctx, q, updated)
	})
	if err != nil {
		return domain.Transaction{}, s.wrap("UpdateTransaction", err)
	}
	return updated, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	return s.wrap("DeleteTransaction", err)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := getTransaction(ctx, s.db, id)
	return t, s.wrap("GetTransaction", err)
}

func (s *Store) GetAllTransactions(ctx context.Context) ([]domain.Transaction, error) {
	out, err := queryTransactions(ctx, s.db, "")
	return out, s.wrap("GetAllTransactions", err)
}

// GetTransactionsByDateRange scans idx_transactions_date between both bounds.
func (s *Store) GetTransactionsByDateRange(ctx context.Context, from, to civil.Date) ([]domain.Transaction, error) {
	out, err := queryTransactions(ctx, s.db, "date >= ? AND date <= ?", from.String(), to.String())
	return out, s.wrap("GetTransactionsByDateRange", err)
}

func (s *Store) GetTransactionsByCategory(ctx context.Context, category string) ([]domain.Transaction, error) {
	out, err := queryTransactions(ctx, s.db, "category = ?", category)
	return out, s.wrap("GetTransactionsByCategory", err)
}

func (s *Store) GetTransactionsByType(ctx context.Context, typ domain.TransactionType) ([]domain.Transaction, error) {
	out, err := queryTransactions(ctx, s.db, "type = ?", string(typ))
	return out, s.wrap("GetTransactionsByType", err)
}

// GetTransactionsByCategoryAndType uses the (category, type) compound index.
func (s *Store) GetTransactionsByCategoryAndType(ctx context.Context, category string, typ domain.TransactionType) ([]domain.Transaction, error) {
	out, err := queryTransactions(ctx, s.db, "category = ? AND type = ?", category, string(typ))
	return out, s.wrap("GetTransactionsByCategoryAndType", err)
}

func (s *Store) GetTransactionsByMonth(ctx context.Context, month, year int) ([]domain.Transaction, error) {
	from, to := domain.MonthRange(month, year)
	return s.GetTransactionsByDateRange(ctx, from, to)
}

func (s *Store) GetTransactionsByRecurringID(ctx context.Context, recurringID string) ([]domain.Transaction, error) {
	out, err := queryTransactions(ctx, s.db, "recurring_id = ?", recurringID)
	return out, s.wrap("GetTransactionsByRecurringID", err)
}

// ---- budgets ----

// checkActiveBudget rejects b when another active budget has its category.
func checkActiveBudget(ctx context.Context, q querier, b domain.Budget) error {
	if !b.IsActive {
		return nil
	}
	active, err := queryBudgets(ctx, q, "is_active = 1")
	if err != nil {
		return err
	}
	if other, ok := domain.ConflictingActiveBudget(b, active); ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateActiveBudget, other)
	}
	return nil
}

func (s *Store) AddBudget(ctx context.Context, b domain.Budget) (domain.Budget, error) {
	b, err := storage.PrepareBudget(b, s.now())
	if err != nil {
		return domain.Budget{}, s.wrap("AddBudget", err)
	}
	err = withTx(ctx, s.db, func(q *sql.Tx) error {
		existing, err := getBudget(ctx, q, b.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateID, b.ID)
		}
		if err := checkActiveBudget(ctx, q, b); err != nil {
			return err
		}
		return insertBudget(ctx, q, b)
	})
	if err != nil {
		return domain.Budget{}, s.wrap("AddBudget", err)
	}
	return b, nil
}

func (s *Store) UpdateBudget(ctx context.Context, id string, patch domain.BudgetPatch) (domain.Budget, error) {
	var updated domain.Budget
	err := withTx(ctx, s.db, func(q *sql.Tx) error {
		current, err := getBudget(ctx, q, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: budget %s", storage.ErrNotFound, id)
		}
		updated = patch.Apply(*current, s.now())
		if err := updated.Validate(); err != nil {
			return err
		}
		if err := checkActiveBudget(ctx, q, updated); err != nil {
			return err
		}
		return updateBudgetRow(ctx, q, updated)
	})
	if err != nil {
		return domain.Budget{}, s.wrap("UpdateBudget", err)
	}
	return updated, nil
}

func (s *Store) DeleteBudget(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	return s.wrap("DeleteBudget", err)
}

func (s *Store) GetBudget(ctx context.Context, id string) (*domain.Budget, error) {
	b, err := getBudget(ctx, s.db, id)
	return b, s.wrap("GetBudget", err)
}

func (s *Store) GetAllBudgets(ctx context.Context) ([]domain.Budget, error) {
	out, err := queryBudgets(ctx, s.db, "")
	return out, s.wrap("GetAllBudgets", err)
}

func (s *Store) GetBudgetsByCategory(ctx context.Context, category string) ([]domain.Budget, error) {
	out, err := queryBudgets(ctx, s.db, "category = ?", category)
	return out, s.wrap("GetBudgetsByCategory", err)
}

func (s *Store) GetActiveBudgets(ctx context.Context) ([]domain.Budget, error) {
	out, err := queryBudgets(ctx, s.db, "is_active = 1")
	return out, s.wrap("GetActiveBudgets", err)
}

// ---- recurring templates ----

func (s *Store) AddRecurring(ctx context.Context, r domain.RecurringTemplate) (domain.RecurringTemplate, error) {
	r, err := storage.PrepareRecurring(r, s.now())
	if err != nil {
		return domain.RecurringTemplate{}, s.wrap("AddRecurring", err)
	}
	err = withTx(ctx, s.db, func(q *sql.Tx) error {
		existing, err := getRecurring(ctx, q, r.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateID, r.ID)
		}
		return insertRecurring(ctx, q, r)
	})
	if err != nil {
		return domain.RecurringTemplate{}, s.wrap("AddRecurring", err)
	}
	return r, nil
}

func (s *Store) UpdateRecurring(ctx context.Context, id string, patch domain.RecurringPatch) (domain.RecurringTemplate, error) {
	var updated domain.RecurringTemplate
	err := withTx(ctx, s.db, func(q *sql.Tx) error {
		current, err := getRecurring(ctx, q, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: recurring %s", storage.ErrNotFound, id)
		}
		updated = patch.Apply(*current, s.now())
		if err := updated.Validate(); err != nil {
			return err
		}
		return updateRecurringRow(ctx, q, updated)
	})
	if err != nil {
		return domain.RecurringTemplate{}, s.wrap("UpdateRecurring", err)
	}
	return updated, nil
}

func (s *Store) DeleteRecurring(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recurring WHERE id = ?`, id)
	return s.wrap("DeleteRecurring", err)
}

func (s *Store) GetRecurring(ctx context.Context, id string) (*domain.RecurringTemplate, error) {
	r, err := getRecurring(ctx, s.db, id)
	return r, s.wrap("GetRecurring", err)
}

func (s *Store) GetAllRecurring(ctx context.Context) ([]domain.RecurringTemplate, error) {
	out, err := queryRecurring(ctx, s.db, "")
	return out, s.wrap("GetAllRecurring", err)
}

func (s *Store) GetActiveRecurring(ctx context.Context) ([]domain.RecurringTemplate, error) {
	out, err := queryRecurring(ctx, s.db, "is_active = 1")
	return out, s.wrap("GetActiveRecurring", err)
}

// GetDueRecurring uses the (is_active, next_occurrence) compound index.
func (s *Store) GetDueRecurring(ctx context.Context, asOf civil.Date) ([]domain.RecurringTemplate, error) {
	out, err := queryRecurring(ctx, s.db, "is_active = 1 AND next_occurrence <= ?", asOf.String())
	return out, s.wrap("GetDueRecurring", err)
}

// ---- settings ----

func loadSettings(ctx context.Context, q querier) (*domain.Settings, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT payload FROM settings WHERE id = ?`, domain.SettingsID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var settings domain.Settings
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}

func storeSettings(ctx context.Context, q querier, settings domain.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = q.ExecContext(ctx, `
	INSERT INTO settings(id, payload) VALUES(?, ?)
	ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		domain.SettingsID, string(payload))
	return err
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	settings, err := loadSettings(ctx, s.db)
	if err != nil {
		return domain.Settings{}, s.wrap("GetSettings", err)
	}
	if settings == nil {
		return domain.DefaultSettings(), nil
	}
	return *settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = s.now()
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return s.wrap("SaveSettings", storeSettings(ctx, s.db, settings))
}

func (s *Store) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	var updated domain.Settings
	err := withTx(ctx, s.db, func(q *sql.Tx) error {
		current, err := loadSettings(ctx, q)
		if err != nil {
			return err
		}
		base := domain.DefaultSettings()
		if current != nil {
			base = *current
		}
		updated = patch.Apply(base, s.now())
		return storeSettings(ctx, q, updated)
	})
	if err != nil {
		return domain.Settings{}, s.wrap("UpdateSettings", err)
	}
	return updated, nil
}

// ---- bulk ----

func (s *Store) ExportAll(ctx context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{ExportedAt: s.now(), Version: domain.SnapshotVersion}
	err := withTx(ctx, s.db, func(q *sql.Tx) error {
		var err error
		if snap.Transactions, err = queryTransactions(ctx, q, ""); err != nil {
			return err
		}
		if snap.Budgets, err = queryBudgets(ctx, q, ""); err != nil {
			return err
		}
		if snap.Recurring, err = queryRecurring(ctx, q, ""); err != nil {
			return err
		}
		settings, err := loadSettings(ctx, q)
		if err != nil {
			return err
		}
		if settings == nil {
			defaults := domain.DefaultSettings()
			settings = &defaults
		}
		snap.Settings = settings
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, s.wrap("ExportAll", err)
	}
	return snap, nil
}

func clearAll(ctx context.Context, q querier) error {
	for _, table := range []string{"transactions", "budgets", "recurring", "settings"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// ImportAll clears every table and inserts the snapshot in one database
// transaction, so a failed import leaves the previous data in place.
func (s *Store) ImportAll(ctx context.Context, snap domain.Snapshot) error {
	err := withTx(ctx, s.db, func(q *sql.Tx) error {
		if err := clearAll(ctx, q); err != nil {
			return err
		}
		for _, t := range snap.Transactions {
			if err := insertTransaction(ctx, q, t); err != nil {
				return fmt.Errorf("insert transaction %s: %w", t.ID, err)
			}
		}
		for _, b := range snap.Budgets {
			if err := insertBudget(ctx, q, b); err != nil {
				return fmt.Errorf("insert budget %s: %w", b.ID, err)
			}
		}
		for _, r := range snap.Recurring {
			if err := insertRecurring(ctx, q, r); err != nil {
				return fmt.Errorf("insert recurring %s: %w", r.ID, err)
			}
		}
		if snap.Settings != nil {
			return storeSettings(ctx, q, *snap.Settings)
		}
		return nil
	})
	return s.wrap("ImportAll", err)
}

func (s *Store) ClearAll(ctx context.Context) error {
	return s.wrap("ClearAll", withTx(ctx, s.db, func(q *sql.Tx) error {
		return clearAll(ctx, q)
	}))
}

func (s *Store) GetStats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	row := s.db.QueryRowContext(ctx, `SELECT
	(SELECT COUNT(*) FROM transactions),
	(SELECT COUNT(*) FROM budgets),
	(SELECT COUNT(*) FROM recurring),
	(SELECT COUNT(*) FROM settings)`)
	var settingsRows int
	if err := row.Scan(&stats.Transactions, &stats.Budgets, &stats.Recurring, &settingsRows); err != nil {
		return domain.Stats{}, s.wrap("GetStats", err)
	}
	stats.HasSettings = settingsRows > 0
	return stats, nil
}

var _ storage.Adapter = (*Store)(nil)
