// Package flatstore implements storage.Adapter over a kv.Store, keeping each
// entity family as one JSON array in one slot. Every query loads the whole
// family and filters it in memory.
package flatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/kv"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// Store is the flat backend.
type Store struct {
	slots kv.Store
	now   func() time.Time

	// mu serialises read-modify-write cycles on the slots.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns a flat adapter over slots.
func New(slots kv.Store, opts ...Option) *Store {
	s := &Store{slots: slots, now: domain.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Backend() storage.Backend {
	return storage.BackendFlat
}

// Close releases the underlying slot store.
func (s *Store) Close() error {
	return s.slots.Close()
}

func (s *Store) wrap(op string, err error) error {
	return storage.Wrap(storage.BackendFlat, op, err)
}

// load decodes the array stored under key. A missing slot is an empty list.
func load[T any](ctx context.Context, slots kv.Store, key string) ([]T, error) {
	data, err := slots.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func save[T any](ctx context.Context, slots kv.Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return slots.Set(ctx, key, data)
}

func indexOf[T any](items []T, id string, idOf func(T) string) int {
	for i, item := range items {
		if idOf(item) == id {
			return i
		}
	}
	return -1
}

func txID(t domain.Transaction) string       { return t.ID }
func budgetID(b domain.Budget) string        { return b.ID }
func recID(r domain.RecurringTemplate) string { return r.ID }

// ---- transactions ----

func (s *Store) AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	tx, err := storage.PrepareTransaction(tx, s.now())
	if err != nil {
		return domain.Transaction{}, s.wrap("AddTransaction", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := load[domain.Transaction](ctx, s.slots, kv.KeyTransactions)
	if err != nil {
		return domain.Transaction{}, s.wrap("AddTransaction", err)
	}
	if indexOf(txs, tx.ID, txID) >= 0 {
		return domain.Transaction{}, s.wrap("AddTransaction", fmt.Errorf("%w: %s", storage.ErrDuplicateID, tx.ID))
	}
	txs = append(txs, tx)
	if err := save(ctx, s.slots, kv.KeyTransactions, txs); err != nil {
		return domain.Transaction{}, s.wrap("AddTransaction", err)
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, id string, patch domain.TransactionPatch) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := load[domain.Transaction](ctx, s.slots, kv.KeyTransactions)
	if err != nil {
		return domain.Transaction{}, s.wrap("UpdateTransaction", err)
	}
	i := indexOf(txs, id, txID)
	if i < 0 {
		return domain.Transaction{}, s.wrap("UpdateTransaction", fmt.Errorf("%w: transaction %s", storage.ErrNotFound, id))
	}
	updated := patch.Apply(txs[i], s.now())
	if err := updated.Validate(); err != nil {
		return domain.Transaction{}, s.wrap("UpdateTransaction", err)
	}
	txs[i] = updated
	if err := save(ctx, s.slots, kv.KeyTransactions, txs); err != nil {
		return domain.Transaction{}, s.wrap("UpdateTransaction", err)
	}
	return updated, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := load[domain.Transaction](ctx, s.slots, kv.KeyTransactions)
	if err != nil {
		return s.wrap("DeleteTransaction", err)
	}
	i := indexOf(txs, id, txID)
	if i < 0 {
		return nil
	}
	txs = append(txs[:i], txs[i+1:]...)
	return s.wrap("DeleteTransaction", save(ctx, s.slots, kv.KeyTransactions, txs))
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txs, err := load[domain.Transaction](ctx, s.slots, kv.KeyTransactions)
	if err != nil {
		return nil, s.wrap("GetTransaction", err)
	}
	if i := indexOf(txs, id, txID); i >= 0 {
		return &txs[i], nil
	}
	return nil, nil
}

func (s *Store) queryTransactions(ctx context.Context, op string, keep func(domain.Transaction) bool) ([]domain.Transaction, error) {
	txs, err := load[domain.Transaction](ctx, s.slots, kv.KeyTransactions)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	out := storage.Filter(txs, keep)
	domain.SortTransactions(out)
	return out, nil
}

func (s *Store) GetAllTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetAllTransactions", func(domain.Transaction) bool { return true })
}

func (s *Store) GetTransactionsByDateRange(ctx context.Context, from, to civil.Date) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByDateRange", func(t domain.Transaction) bool {
		return domain.InRange(t.Date, from, to)
	})
}

func (s *Store) GetTransactionsByCategory(ctx context.Context, category string) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByCategory", func(t domain.Transaction) bool {
		return t.Category == category
	})
}

func (s *Store) GetTransactionsByType(ctx context.Context, typ domain.TransactionType) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByType", func(t domain.Transaction) bool {
		return t.Type == typ
	})
}

func (s *Store) GetTransactionsByCategoryAndType(ctx context.Context, category string, typ domain.TransactionType) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByCategoryAndType", func(t domain.Transaction) bool {
		return t.Category == category && t.Type == typ
	})
}

func (s *Store) GetTransactionsByMonth(ctx context.Context, month, year int) ([]domain.Transaction, error) {
	from, to := domain.MonthRange(month, year)
	return s.GetTransactionsByDateRange(ctx, from, to)
}

func (s *Store) GetTransactionsByRecurringID(ctx context.Context, recurringID string) ([]domain.Transaction, error) {
	return s.queryTransactions(ctx, "GetTransactionsByRecurringID", func(t domain.Transaction) bool {
		return t.RecurringID == recurringID
	})
}

// ---- budgets ----

func (s *Store) AddBudget(ctx context.Context, b domain.Budget) (domain.Budget, error) {
	b, err := storage.PrepareBudget(b, s.now())
	if err != nil {
		return domain.Budget{}, s.wrap("AddBudget", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	budgets, err := load[domain.Budget](ctx, s.slots, kv.KeyBudgets)
	if err != nil {
		return domain.Budget{}, s.wrap("AddBudget", err)
	}
	if indexOf(budgets, b.ID, budgetID) >= 0 {
		return domain.Budget{}, s.wrap("AddBudget", fmt.Errorf("%w: %s", storage.ErrDuplicateID, b.ID))
	}
	if other, ok := domain.ConflictingActiveBudget(b, budgets); ok {
		return domain.Budget{}, s.wrap("AddBudget", fmt.Errorf("%w: %s", domain.ErrDuplicateActiveBudget, other))
	}
	budgets = append(budgets, b)
	if err := save(ctx, s.slots, kv.KeyBudgets, budgets); err != nil {
		return domain.Budget{}, s.wrap("AddBudget", err)
	}
	return b, nil
}

func (s *Store) UpdateBudget(ctx context.Context, id string, patch domain.BudgetPatch) (domain.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	budgets, err := load[domain.Budget](ctx, s.slots, kv.KeyBudgets)
	if err != nil {
		return domain.Budget{}, s.wrap("UpdateBudget", err)
	}
	i := indexOf(budgets, id, budgetID)
	if i < 0 {
		return domain.Budget{}, s.wrap("UpdateBudget", fmt.Errorf("%w: budget %s", storage.ErrNotFound, id))
	}
	updated := patch.Apply(budgets[i], s.now())
	if err := updated.Validate(); err != nil {
		return domain.Budget{}, s.wrap("UpdateBudget", err)
	}
	if other, ok := domain.ConflictingActiveBudget(updated, budgets); ok {
		return domain.Budget{}, s.wrap("UpdateBudget", fmt.Errorf("%w: %s", domain.ErrDuplicateActiveBudget, other))
	}
	budgets[i] = updated
	if err := save(ctx, s.slots, kv.KeyBudgets, budgets); err != nil {
		return domain.Budget{}, s.wrap("UpdateBudget", err)
	}
	return updated, nil
}

func (s *Store) DeleteBudget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	budgets, err := load[domain.Budget](ctx, s.slots, kv.KeyBudgets)
	if err != nil {
		return s.wrap("DeleteBudget", err)
	}
	i := indexOf(budgets, id, budgetID)
	if i < 0 {
		return nil
	}
	budgets = append(budgets[:i], budgets[i+1:]...)
	return s.wrap("DeleteBudget", save(ctx, s.slots, kv.KeyBudgets, budgets))
}

func (s *Store) GetBudget(ctx context.Context, id string) (*domain.Budget, error) {
	budgets, err := load[domain.Budget](ctx, s.slots, kv.KeyBudgets)
	if err != nil {
		return nil, s.wrap("GetBudget", err)
	}
	if i := indexOf(budgets, id, budgetID); i >= 0 {
		return &budgets[i], nil
	}
	return nil, nil
}

func (s *Store) queryBudgets(ctx context.Context, op string, keep func(domain.Budget) bool) ([]domain.Budget, error) {
	budgets, err := load[domain.Budget](ctx, s.slots, kv.KeyBudgets)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	out := storage.Filter(budgets, keep)
	domain.SortBudgets(out)
	return out, nil
}

func (s *Store) GetAllBudgets(ctx context.Context) ([]domain.Budget, error) {
	return s.queryBudgets(ctx, "GetAllBudgets", func(domain.Budget) bool { return true })
}

func (s *Store) GetBudgetsByCategory(ctx context.Context, category string) ([]domain.Budget, error) {
	return s.queryBudgets(ctx, "GetBudgetsByCategory", func(b domain.Budget) bool {
		return b.Category == category
	})
}

func (s *Store) GetActiveBudgets(ctx context.Context) ([]domain.Budget, error) {
	return s.queryBudgets(ctx, "GetActiveBudgets", func(b domain.Budget) bool {
		return b.IsActive
	})
}

// ---- recurring templates ----

func (s *Store) AddRecurring(ctx context.Context, r domain.RecurringTemplate) (domain.RecurringTemplate, error) {
	r, err := storage.PrepareRecurring(r, s.now())
	if err != nil {
		return domain.RecurringTemplate{}, s.wrap("AddRecurring", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := load[domain.RecurringTemplate](ctx, s.slots, kv.KeyRecurring)
	if err != nil {
		return domain.RecurringTemplate{}, s.wrap("AddRecurring", err)
	}
	if indexOf(templates, r.ID, recID) >= 0 {
		return domain.RecurringTemplate{}, s.wrap("AddRecurring", fmt.Errorf("%w: %s", storage.ErrDuplicateID, r.ID))
	}
	templates = append(templates, r)
	if err := save(ctx, s.slots, kv.KeyRecurring, templates); err != nil {
		return domain.RecurringTemplate{}, s.wrap("AddRecurring", err)
	}
	return r, nil
}

func (s *Store) UpdateRecurring(ctx context.Context, id string, patch domain.RecurringPatch) (domain.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := load[domain.RecurringTemplate](ctx, s.slots, kv.KeyRecurring)
	if err != nil {
		return domain.RecurringTemplate{}, s.wrap("UpdateRecurring", err)
	}
	i := indexOf(templates, id, recID)
	if i < 0 {
		return domain.RecurringTemplate{}, s.wrap("UpdateRecurring", fmt.Errorf("%w: recurring %s", storage.ErrNotFound, id))
	}
	updated := patch.Apply(templates[i], s.now())
	if err := updated.Validate(); err != nil {
		return domain.RecurringTemplate{}, s.wrap("UpdateRecurring", err)
	}
	templates[i] = updated
	if err := save(ctx, s.slots, kv.KeyRecurring, templates); err != nil {
		return domain.RecurringTemplate{}, s.wrap("UpdateRecurring", err)
	}
	return updated, nil
}

func (s *Store) DeleteRecurring(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := load[domain.RecurringTemplate](ctx, s.slots, kv.KeyRecurring)
	if err != nil {
		return s.wrap("DeleteRecurring", err)
	}
	i := indexOf(templates, id, recID)
	if i < 0 {
		return nil
	}
	templates = append(templates[:i], templates[i+1:]...)
	return s.wrap("DeleteRecurring", save(ctx, s.slots, kv.KeyRecurring, templates))
}

func (s *Store) GetRecurring(ctx context.Context, id string) (*domain.RecurringTemplate, error) {
	templates, err := load[domain.RecurringTemplate](ctx, s.slots, kv.KeyRecurring)
	if err != nil {
		return nil, s.wrap("GetRecurring", err)
	}
	if i := indexOf(templates, id, recID); i >= 0 {
		return &templates[i], nil
	}
	return nil, nil
}

func (s *Store) queryRecurring(ctx context.Context, op string, keep func(domain.RecurringTemplate) bool) ([]domain.RecurringTemplate, error) {
	templates, err := load[domain.RecurringTemplate](ctx, s.slots, kv.KeyRecurring)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	out := storage.Filter(templates, keep)
	domain.SortRecurring(out)
	return out, nil
}

func (s *Store) GetAllRecurring(ctx context.Context) ([]domain.RecurringTemplate, error) {
	return s.queryRecurring(ctx, "GetAllRecurring", func(domain.RecurringTemplate) bool { return true })
}

func (s *Store) GetActiveRecurring(ctx context.Context) ([]domain.RecurringTemplate, error) {
	return s.queryRecurring(ctx, "GetActiveRecurring", func(r domain.RecurringTemplate) bool {
		return r.IsActive
	})
}

func (s *Store) GetDueRecurring(ctx context.Context, asOf civil.Date) ([]domain.RecurringTemplate, error) {
	return s.queryRecurring(ctx, "GetDueRecurring", func(r domain.RecurringTemplate) bool {
		return r.IsActive && !r.NextOccurrence.After(asOf)
	})
}

// ---- settings ----

func (s *Store) loadSettings(ctx context.Context) (*domain.Settings, error) {
	data, err := s.slots.Get(ctx, kv.KeySettings)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var settings domain.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kv.KeySettings, err)
	}
	return &settings, nil
}

func (s *Store) saveSettings(ctx context.Context, settings domain.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kv.KeySettings, err)
	}
	return s.slots.Set(ctx, kv.KeySettings, data)
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return domain.Settings{}, s.wrap("GetSettings", err)
	}
	if settings == nil {
		return domain.DefaultSettings(), nil
	}
	return *settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = s.now()
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return s.wrap("SaveSettings", s.saveSettings(ctx, settings))
}

func (s *Store) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadSettings(ctx)
	if err != nil {
		return domain.Settings{}, s.wrap("UpdateSettings", err)
	}
	base := domain.DefaultSettings()
	if current != nil {
		base = *current
	}
	updated := patch.Apply(base, s.now())
	if err := s.saveSettings(ctx, updated); err != nil {
		return domain.Settings{}, s.wrap("UpdateSettings", err)
	}
	return updated, nil
}

// ---- bulk ----

func (s *Store) ExportAll(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{ExportedAt: s.now(), Version: domain.SnapshotVersion}
	var err error
	if snap.Transactions, err = load[domain.Transaction](ctx, s.slots, kv.KeyTransactions); err != nil {
		return domain.Snapshot{}, s.wrap("ExportAll", err)
	}
	if snap.Budgets, err = load[domain.Budget](ctx, s.slots, kv.KeyBudgets); err != nil {
		return domain.Snapshot{}, s.wrap("ExportAll", err)
	}
	if snap.Recurring, err = load[domain.RecurringTemplate](ctx, s.slots, kv.KeyRecurring); err != nil {
		return domain.Snapshot{}, s.wrap("ExportAll", err)
	}
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return domain.Snapshot{}, s.wrap("ExportAll", err)
	}
	if settings == nil {
		defaults := domain.DefaultSettings()
		settings = &defaults
	}
	snap.Settings = settings

	domain.SortTransactions(snap.Transactions)
	domain.SortBudgets(snap.Budgets)
	domain.SortRecurring(snap.Recurring)
	return snap, nil
}

// ImportAll overwrites every slot with the snapshot's content. A nil
// settings record removes the stored one.
func (s *Store) ImportAll(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := save(ctx, s.slots, kv.KeyTransactions, snap.Transactions); err != nil {
		return s.wrap("ImportAll", err)
	}
	if err := save(ctx, s.slots, kv.KeyBudgets, snap.Budgets); err != nil {
		return s.wrap("ImportAll", err)
	}
	if err := save(ctx, s.slots, kv.KeyRecurring, snap.Recurring); err != nil {
		return s.wrap("ImportAll", err)
	}
	if snap.Settings == nil {
		return s.wrap("ImportAll", s.slots.Delete(ctx, kv.KeySettings))
	}
	return s.wrap("ImportAll", s.saveSettings(ctx, *snap.Settings))
}

func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{kv.KeyTransactions, kv.KeyBudgets, kv.KeyRecurring, kv.KeySettings} {
		if err := s.slots.Delete(ctx, key); err != nil {
			return s.wrap("ClearAll", err)
		}
	}
	return nil
}

func (s *Store) GetStats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats

	txs, err := load[domain.Transaction](ctx, s.slots, kv.KeyTransactions)
	if err != nil {
		return stats, s.wrap("GetStats", err)
	}
	budgets, err := load[domain.Budget](ctx, s.slots, kv.KeyBudgets)
	if err != nil {
		return stats, s.wrap("GetStats", err)
	}
	templates, err := load[domain.RecurringTemplate](ctx, s.slots, kv.KeyRecurring)
	if err != nil {
		return stats, s.wrap("GetStats", err)
	}
	settings, err := s.loadSettings(ctx)
	if err != nil {
		return stats, s.wrap("GetStats", err)
	}

	stats.Transactions = len(txs)
	stats.Budgets = len(budgets)
	stats.Recurring = len(templates)
	stats.HasSettings = settings != nil
	return stats, nil
}

var _ storage.Adapter = (*Store)(nil)
