// Package memory is an in-process Remote used by tests and by the "none"
// remote driver in local development.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/remote"
)

// ErrInjected is returned by calls that were configured to fail.
var ErrInjected = errors.New("injected remote failure")

type key struct {
	userID string
	id     string
}

// Remote implements remote.Remote in memory.
type Remote struct {
	mu           sync.RWMutex
	transactions map[key]remote.TransactionRow
	recurring    map[key]remote.RecurringRow
	budgets      map[key]remote.BudgetRow

	failUpsert map[string]bool
	failFetch  bool
	upserts    int
	deletes    int
}

var _ remote.Remote = (*Remote)(nil)

// New creates an empty in-memory remote.
func New() *Remote {
	return &Remote{
		transactions: make(map[key]remote.TransactionRow),
		recurring:    make(map[key]remote.RecurringRow),
		budgets:      make(map[key]remote.BudgetRow),
		failUpsert:   make(map[string]bool),
	}
}

// FailUpsert makes every upsert of id fail until cleared with ok=false.
func (r *Remote) FailUpsert(id string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fail {
		r.failUpsert[id] = true
	} else {
		delete(r.failUpsert, id)
	}
}

// FailFetch makes every fetch fail.
func (r *Remote) FailFetch(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failFetch = fail
}

// Upserts returns how many upserts succeeded.
func (r *Remote) Upserts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upserts
}

// Deletes returns how many deletes were issued.
func (r *Remote) Deletes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deletes
}

func (r *Remote) checkUpsert(id string) error {
	if r.failUpsert[id] {
		return ErrInjected
	}
	r.upserts++
	return nil
}

func sortRows[T any](rows []T, createdAt func(T) time.Time, id func(T) string) {
	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := createdAt(rows[i]), createdAt(rows[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return id(rows[i]) < id(rows[j])
	})
}

// UpsertTransaction implements the remote.Remote interface.
func (r *Remote) UpsertTransaction(ctx context.Context, row remote.TransactionRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUpsert(row.ID); err != nil {
		return err
	}
	r.transactions[key{row.UserID, row.ID}] = row
	return nil
}

// FetchTransactions implements the remote.Remote interface.
func (r *Remote) FetchTransactions(ctx context.Context, userID string) ([]remote.TransactionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failFetch {
		return nil, ErrInjected
	}
	out := make([]remote.TransactionRow, 0)
	for k, row := range r.transactions {
		if k.userID == userID {
			out = append(out, row)
		}
	}
	sortRows(out,
		func(row remote.TransactionRow) time.Time { return row.CreatedAt },
		func(row remote.TransactionRow) string { return row.ID })
	return out, nil
}

// DeleteTransaction implements the remote.Remote interface.
func (r *Remote) DeleteTransaction(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.transactions, key{userID, id})
	return nil
}

// UpsertRecurring implements the remote.Remote interface.
func (r *Remote) UpsertRecurring(ctx context.Context, row remote.RecurringRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUpsert(row.ID); err != nil {
		return err
	}
	r.recurring[key{row.UserID, row.ID}] = row
	return nil
}

// FetchRecurring implements the remote.Remote interface.
func (r *Remote) FetchRecurring(ctx context.Context, userID string) ([]remote.RecurringRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failFetch {
		return nil, ErrInjected
	}
	out := make([]remote.RecurringRow, 0)
	for k, row := range r.recurring {
		if k.userID == userID {
			out = append(out, row)
		}
	}
	sortRows(out,
		func(row remote.RecurringRow) time.Time { return row.CreatedAt },
		func(row remote.RecurringRow) string { return row.ID })
	return out, nil
}

// DeleteRecurring implements the remote.Remote interface.
func (r *Remote) DeleteRecurring(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.recurring, key{userID, id})
	return nil
}

// UpsertBudget implements the remote.Remote interface.
func (r *Remote) UpsertBudget(ctx context.Context, row remote.BudgetRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUpsert(row.ID); err != nil {
		return err
	}
	r.budgets[key{row.UserID, row.ID}] = row
	return nil
}

// FetchBudgets implements the remote.Remote interface.
func (r *Remote) FetchBudgets(ctx context.Context, userID string) ([]remote.BudgetRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.failFetch {
		return nil, ErrInjected
	}
	out := make([]remote.BudgetRow, 0)
	for k, row := range r.budgets {
		if k.userID == userID {
			out = append(out, row)
		}
	}
	sortRows(out,
		func(row remote.BudgetRow) time.Time { return row.CreatedAt },
		func(row remote.BudgetRow) string { return row.ID })
	return out, nil
}

// DeleteBudget implements the remote.Remote interface.
func (r *Remote) DeleteBudget(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.budgets, key{userID, id})
	return nil
}

// Close implements the remote.Remote interface.
func (r *Remote) Close() error { return nil }
