package cloudsync

import (
	"context"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// family binds one record collection on both sides. Remote records come back
// as domain values whose UpdatedAt is the remote updated_at.
type family[T any] struct {
	name      jobs.Family
	id        func(T) string
	updatedAt func(T) time.Time
	same      func(a, b T) bool

	list      func(ctx context.Context) ([]T, error)
	get       func(ctx context.Context, id string) (*T, error)
	insert    func(ctx context.Context, rec T) error
	overwrite func(ctx context.Context, rec T) error

	push  func(ctx context.Context, rec T, userID string, now time.Time) error
	fetch func(ctx context.Context, userID string) ([]T, error)
}

func transactionFamily(local storage.Adapter, r remote.Remote) family[domain.Transaction] {
	return family[domain.Transaction]{
		name:      jobs.FamilyTransactions,
		id:        func(t domain.Transaction) string { return t.ID },
		updatedAt: func(t domain.Transaction) time.Time { return t.UpdatedAt },
		same:      remote.SameTransaction,
		list:      local.GetAllTransactions,
		get:       local.GetTransaction,
		insert: func(ctx context.Context, t domain.Transaction) error {
			_, err := local.AddTransaction(ctx, t)
			return err
		},
		overwrite: func(ctx context.Context, t domain.Transaction) error {
			_, err := local.UpdateTransaction(ctx, t.ID, domain.FullTransactionPatch(t))
			return err
		},
		push: func(ctx context.Context, t domain.Transaction, userID string, now time.Time) error {
			return r.UpsertTransaction(ctx, remote.TransactionToRow(t, userID, now))
		},
		fetch: func(ctx context.Context, userID string) ([]domain.Transaction, error) {
			rows, err := r.FetchTransactions(ctx, userID)
			if err != nil {
				return nil, err
			}
			out := make([]domain.Transaction, 0, len(rows))
			for _, row := range rows {
				out = append(out, remote.RowToTransaction(row))
			}
			return out, nil
		},
	}
}

func recurringFamily(local storage.Adapter, r remote.Remote) family[domain.RecurringTemplate] {
	return family[domain.RecurringTemplate]{
		name:      jobs.FamilyRecurring,
		id:        func(t domain.RecurringTemplate) string { return t.ID },
		updatedAt: func(t domain.RecurringTemplate) time.Time { return t.UpdatedAt },
		same:      remote.SameRecurring,
		list:      local.GetAllRecurring,
		get:       local.GetRecurring,
		insert: func(ctx context.Context, t domain.RecurringTemplate) error {
			_, err := local.AddRecurring(ctx, t)
			return err
		},
		overwrite: func(ctx context.Context, t domain.RecurringTemplate) error {
			_, err := local.UpdateRecurring(ctx, t.ID, domain.FullRecurringPatch(t))
			return err
		},
		push: func(ctx context.Context, t domain.RecurringTemplate, userID string, now time.Time) error {
			return r.UpsertRecurring(ctx, remote.RecurringToRow(t, userID, now))
		},
		fetch: func(ctx context.Context, userID string) ([]domain.RecurringTemplate, error) {
			rows, err := r.FetchRecurring(ctx, userID)
			if err != nil {
				return nil, err
			}
			out := make([]domain.RecurringTemplate, 0, len(rows))
			for _, row := range rows {
				out = append(out, remote.RowToRecurring(row))
			}
			return out, nil
		},
	}
}

func budgetFamily(local storage.Adapter, r remote.Remote) family[domain.Budget] {
	return family[domain.Budget]{
		name:      jobs.FamilyBudgets,
		id:        func(b domain.Budget) string { return b.ID },
		updatedAt: func(b domain.Budget) time.Time { return b.UpdatedAt },
		same:      remote.SameBudget,
		list:      local.GetAllBudgets,
		get:       local.GetBudget,
		insert: func(ctx context.Context, b domain.Budget) error {
			_, err := local.AddBudget(ctx, b)
			return err
		},
		overwrite: func(ctx context.Context, b domain.Budget) error {
			_, err := local.UpdateBudget(ctx, b.ID, domain.FullBudgetPatch(b))
			return err
		},
		push: func(ctx context.Context, b domain.Budget, userID string, now time.Time) error {
			return r.UpsertBudget(ctx, remote.BudgetToRow(b, userID, now))
		},
		fetch: func(ctx context.Context, userID string) ([]domain.Budget, error) {
			rows, err := r.FetchBudgets(ctx, userID)
			if err != nil {
				return nil, err
			}
			out := make([]domain.Budget, 0, len(rows))
			for _, row := range rows {
				out = append(out, remote.RowToBudget(row))
			}
			return out, nil
		},
	}
}

// remoteWins settles a last-write-wins conflict. Remote updated_at is the
// push time, so once a sync has succeeded only the local side's own edits are
// compared: a local record untouched since then takes the remote copy.
func remoteWins(since, local, remote time.Time) bool {
	if since.IsZero() {
		return remote.After(local)
	}
	return !local.After(since)
}

// reconcile syncs one family. The remote snapshot is fetched before pushing
// so that conflicts can be seen; records are then pushed one by one and
// remote records unknown locally are inserted. A failed record is logged,
// recorded and skipped. since is the end of the last successful run.
func reconcile[T any](ctx context.Context, e *Engine, f family[T], userID string, since time.Time) (FamilyResult, []RecordError) {
	log := logger.FromContext(ctx).With().Str("family", string(f.name)).Logger()

	var (
		res  FamilyResult
		errs []RecordError
	)
	fail := func(op Op, id string, err error) {
		log.Warn().Err(err).Str("op", string(op)).Str("id", id).Msg("Sync step failed")
		errs = append(errs, RecordError{Family: f.name, Op: op, ID: id, Message: err.Error()})
	}

	locals, err := f.list(ctx)
	if err != nil {
		fail(OpList, "", err)
		return res, errs
	}

	callCtx, cancel := e.callContext(ctx)
	remotes, fetchErr := f.fetch(callCtx, userID)
	cancel()
	if fetchErr != nil {
		fail(OpFetch, "", fetchErr)
	}
	remoteByID := make(map[string]T, len(remotes))
	for _, rec := range remotes {
		remoteByID[f.id(rec)] = rec
	}

	// Push.
	localIDs := make(map[string]struct{}, len(locals))
	for _, rec := range locals {
		id := f.id(rec)
		localIDs[id] = struct{}{}

		if other, ok := remoteByID[id]; ok && !f.same(rec, other) {
			res.Conflicts++
			if e.policy == PolicyLastWriteWins && remoteWins(since, f.updatedAt(rec), f.updatedAt(other)) {
				if err := f.overwrite(ctx, other); err != nil {
					fail(OpPull, id, err)
					continue
				}
				log.Debug().Str("id", id).Msg("Local record unchanged, took remote copy")
				res.Pulled++
				continue
			}
		}

		callCtx, cancel := e.callContext(ctx)
		err := f.push(callCtx, rec, userID, e.now())
		cancel()
		if err != nil {
			fail(OpPush, id, err)
			continue
		}
		res.Pushed++
	}

	if fetchErr != nil {
		return res, errs
	}

	// Pull: only ids the local side has never seen.
	for _, rec := range remotes {
		id := f.id(rec)
		if _, ok := localIDs[id]; ok {
			continue
		}
		if err := f.insert(ctx, rec); err != nil {
			fail(OpPull, id, err)
			continue
		}
		res.Pulled++
	}

	log.Info().
		Int("local", len(locals)).
		Int("remote", len(remotes)).
		Int("pushed", res.Pushed).
		Int("pulled", res.Pulled).
		Int("conflicts", res.Conflicts).
		Int("errors", len(errs)).
		Msg("Family sync completed")

	return res, errs
}
