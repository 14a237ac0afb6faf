package cloudsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
)

// DedupeResult reports a duplicate cleanup.
type DedupeResult struct {
	TransactionsRemoved int           `json:"transactionsRemoved"`
	BudgetsRemoved      int           `json:"budgetsRemoved"`
	Errors              []RecordError `json:"errors"`
}

// duplicates returns every item after the first in each group, where groups
// are formed by key and "first" is the earliest creation, ties broken by id.
// Items whose key is empty are never grouped.
func duplicates[T any](items []T, key func(T) string, createdAt func(T) time.Time, id func(T) string) []T {
	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := createdAt(sorted[i]), createdAt(sorted[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return id(sorted[i]) < id(sorted[j])
	})

	seen := make(map[string]struct{})
	var out []T
	for _, item := range sorted {
		k := key(item)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			out = append(out, item)
			continue
		}
		seen[k] = struct{}{}
	}
	return out
}

// CleanupDuplicates purges duplicate recurring-generated transactions (same
// template and date) and duplicate budgets (same category, compared without
// case) from the remote, keeping the earliest of each group. The removed
// records are deleted locally as well so the next sync does not push them
// back. It is a maintenance operation and never runs as part of Sync.
func (e *Engine) CleanupDuplicates(ctx context.Context) (DedupeResult, error) {
	log := logger.ComponentFromContext(ctx, "sync")
	res := DedupeResult{Errors: []RecordError{}}

	local, userID, err := e.resolve(ctx)
	if err != nil {
		return res, fmt.Errorf("CleanupDuplicates: %w", err)
	}

	fail := func(fam jobs.Family, op Op, id string, err error) {
		log.Warn().Err(err).Str("family", string(fam)).Str("id", id).Msg("Duplicate cleanup step failed")
		res.Errors = append(res.Errors, RecordError{Family: fam, Op: op, ID: id, Message: err.Error()})
	}

	callCtx, cancel := e.callContext(ctx)
	txRows, err := e.remote.FetchTransactions(callCtx, userID)
	cancel()
	if err != nil {
		return res, fmt.Errorf("CleanupDuplicates: fetching transactions: %w", err)
	}
	dupTx := duplicates(txRows,
		func(r remote.TransactionRow) string {
			if r.RecurringID == "" {
				return ""
			}
			return r.RecurringID + "|" + r.Date.String()
		},
		func(r remote.TransactionRow) time.Time { return r.CreatedAt },
		func(r remote.TransactionRow) string { return r.ID })
	for _, r := range dupTx {
		if err := e.DeleteRemote(ctx, jobs.FamilyTransactions, r.ID); err != nil {
			fail(jobs.FamilyTransactions, OpDelete, r.ID, err)
			continue
		}
		if err := local.DeleteTransaction(ctx, r.ID); err != nil {
			fail(jobs.FamilyTransactions, OpDelete, r.ID, err)
			continue
		}
		res.TransactionsRemoved++
	}

	callCtx, cancel = e.callContext(ctx)
	budgetRows, err := e.remote.FetchBudgets(callCtx, userID)
	cancel()
	if err != nil {
		return res, fmt.Errorf("CleanupDuplicates: fetching budgets: %w", err)
	}
	dupBudgets := duplicates(budgetRows,
		func(r remote.BudgetRow) string { return strings.ToLower(strings.TrimSpace(r.Category)) },
		func(r remote.BudgetRow) time.Time { return r.CreatedAt },
		func(r remote.BudgetRow) string { return r.ID })
	for _, r := range dupBudgets {
		if err := e.DeleteRemote(ctx, jobs.FamilyBudgets, r.ID); err != nil {
			fail(jobs.FamilyBudgets, OpDelete, r.ID, err)
			continue
		}
		if err := local.DeleteBudget(ctx, r.ID); err != nil {
			fail(jobs.FamilyBudgets, OpDelete, r.ID, err)
			continue
		}
		res.BudgetsRemoved++
	}

	log.Info().
		Int("transactions_removed", res.TransactionsRemoved).
		Int("budgets_removed", res.BudgetsRemoved).
		Int("errors", len(res.Errors)).
		Msg("Duplicate cleanup completed")

	return res, nil
}
