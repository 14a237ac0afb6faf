package cloudsync

import (
	"context"
	"fmt"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

func (e *Engine) resolve(ctx context.Context) (storage.Adapter, string, error) {
	userID, err := e.identity.UserID(ctx)
	if err != nil {
		return nil, "", err
	}
	local, err := e.local.Active(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("resolving local store: %w", err)
	}
	return local, userID, nil
}

func pushOne[T any](ctx context.Context, e *Engine, f family[T], rec T, userID string) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	return f.push(callCtx, rec, userID, e.now())
}

// PushTransaction upserts one transaction right away.
func (e *Engine) PushTransaction(ctx context.Context, t domain.Transaction) error {
	local, userID, err := e.resolve(ctx)
	if err != nil {
		return fmt.Errorf("PushTransaction: %w", err)
	}
	if err := pushOne(ctx, e, transactionFamily(local, e.remote), t, userID); err != nil {
		return fmt.Errorf("PushTransaction: %s: %w", t.ID, err)
	}
	return nil
}

// PushRecurring upserts one template right away.
func (e *Engine) PushRecurring(ctx context.Context, r domain.RecurringTemplate) error {
	local, userID, err := e.resolve(ctx)
	if err != nil {
		return fmt.Errorf("PushRecurring: %w", err)
	}
	if err := pushOne(ctx, e, recurringFamily(local, e.remote), r, userID); err != nil {
		return fmt.Errorf("PushRecurring: %s: %w", r.ID, err)
	}
	return nil
}

// PushBudget upserts one budget right away.
func (e *Engine) PushBudget(ctx context.Context, b domain.Budget) error {
	local, userID, err := e.resolve(ctx)
	if err != nil {
		return fmt.Errorf("PushBudget: %w", err)
	}
	if err := pushOne(ctx, e, budgetFamily(local, e.remote), b, userID); err != nil {
		return fmt.Errorf("PushBudget: %s: %w", b.ID, err)
	}
	return nil
}

// DeleteRemote removes one record from the remote. Deleting an id the remote
// does not have is not an error. There is no tombstone: a failed delete
// leaves the remote copy in place, and a later pull brings it back.
func (e *Engine) DeleteRemote(ctx context.Context, fam jobs.Family, id string) error {
	userID, err := e.identity.UserID(ctx)
	if err != nil {
		return fmt.Errorf("DeleteRemote: %w", err)
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	switch fam {
	case jobs.FamilyTransactions:
		err = e.remote.DeleteTransaction(callCtx, userID, id)
	case jobs.FamilyRecurring:
		err = e.remote.DeleteRecurring(callCtx, userID, id)
	case jobs.FamilyBudgets:
		err = e.remote.DeleteBudget(callCtx, userID, id)
	default:
		return fmt.Errorf("DeleteRemote: unknown family %q", fam)
	}
	if err != nil {
		return fmt.Errorf("DeleteRemote: %s %s: %w", fam, id, err)
	}
	return nil
}

// HandleJob is the jobs.JobHandler for queued sync jobs. A push job reads
// the record's current local state and pushes it with the matching Push
// method; a record deleted since the job was queued is skipped. A delete
// job only touches the remote: the local delete, and any cascade, already
// happened on the mutation path.
func (e *Engine) HandleJob(ctx context.Context, j *jobs.SyncJob) error {
	log := logger.FromContext(ctx).With().
		Str("job_id", j.JobID).
		Str("family", string(j.Family)).
		Str("record_id", j.RecordID).
		Logger()

	switch j.Type {
	case jobs.JobTypeDelete:
		if err := e.DeleteRemote(ctx, j.Family, j.RecordID); err != nil {
			return fmt.Errorf("HandleJob: %w", err)
		}
	case jobs.JobTypePush:
		if !j.Family.Valid() {
			return fmt.Errorf("HandleJob: unknown family %q", j.Family)
		}
		local, err := e.local.Active(ctx)
		if err != nil {
			return fmt.Errorf("HandleJob: resolving local store: %w", err)
		}
		var found bool
		switch j.Family {
		case jobs.FamilyTransactions:
			found, err = pushLatest(ctx, local.GetTransaction, e.PushTransaction, j.RecordID)
		case jobs.FamilyRecurring:
			found, err = pushLatest(ctx, local.GetRecurring, e.PushRecurring, j.RecordID)
		case jobs.FamilyBudgets:
			found, err = pushLatest(ctx, local.GetBudget, e.PushBudget, j.RecordID)
		}
		if err != nil {
			return fmt.Errorf("HandleJob: %w", err)
		}
		if !found {
			log.Debug().Msg("Record no longer exists locally, nothing to push")
			return nil
		}
	default:
		return fmt.Errorf("HandleJob: unknown job type %q", j.Type)
	}

	log.Debug().Str("type", string(j.Type)).Msg("Sync job handled")
	return nil
}

// pushLatest reads record id and pushes it. It reports false when the record
// is gone.
func pushLatest[T any](ctx context.Context, get func(context.Context, string) (*T, error), push func(context.Context, T) error, id string) (bool, error) {
	rec, err := get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return true, push(ctx, *rec)
}
