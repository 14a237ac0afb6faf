package migration

import (
	"context"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// guarded is the adapter Active hands out. Reads go to the backend that was
// active when it was resolved. Writes share the coordinator's write lock, so
// they wait out a running migrate or rollback, and then land on whichever
// backend is active at that moment.
type guarded struct {
	storage.Adapter
	c *Coordinator
}

func write[T any](ctx context.Context, c *Coordinator, op func(storage.Adapter) (T, error)) (T, error) {
	c.writes.RLock()
	defer c.writes.RUnlock()

	a, err := c.resolve(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return op(a)
}

func (g *guarded) exec(ctx context.Context, op func(storage.Adapter) error) error {
	_, err := write(ctx, g.c, func(a storage.Adapter) (struct{}, error) {
		return struct{}{}, op(a)
	})
	return err
}

func (g *guarded) AddTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	return write(ctx, g.c, func(a storage.Adapter) (domain.Transaction, error) {
		return a.AddTransaction(ctx, tx)
	})
}

func (g *guarded) UpdateTransaction(ctx context.Context, id string, patch domain.TransactionPatch) (domain.Transaction, error) {
	return write(ctx, g.c, func(a storage.Adapter) (domain.Transaction, error) {
		return a.UpdateTransaction(ctx, id, patch)
	})
}

func (g *guarded) DeleteTransaction(ctx context.Context, id string) error {
	return g.exec(ctx, func(a storage.Adapter) error { return a.DeleteTransaction(ctx, id) })
}

func (g *guarded) AddBudget(ctx context.Context, b domain.Budget) (domain.Budget, error) {
	return write(ctx, g.c, func(a storage.Adapter) (domain.Budget, error) {
		return a.AddBudget(ctx, b)
	})
}

func (g *guarded) UpdateBudget(ctx context.Context, id string, patch domain.BudgetPatch) (domain.Budget, error) {
	return write(ctx, g.c, func(a storage.Adapter) (domain.Budget, error) {
		return a.UpdateBudget(ctx, id, patch)
	})
}

func (g *guarded) DeleteBudget(ctx context.Context, id string) error {
	return g.exec(ctx, func(a storage.Adapter) error { return a.DeleteBudget(ctx, id) })
}

func (g *guarded) AddRecurring(ctx context.Context, r domain.RecurringTemplate) (domain.RecurringTemplate, error) {
	return write(ctx, g.c, func(a storage.Adapter) (domain.RecurringTemplate, error) {
		return a.AddRecurring(ctx, r)
	})
}

func (g *guarded) UpdateRecurring(ctx context.Context, id string, patch domain.RecurringPatch) (domain.RecurringTemplate, error) {
	return write(ctx, g.c, func(a storage.Adapter) (domain.RecurringTemplate, error) {
		return a.UpdateRecurring(ctx, id, patch)
	})
}

func (g *guarded) DeleteRecurring(ctx context.Context, id string) error {
	return g.exec(ctx, func(a storage.Adapter) error { return a.DeleteRecurring(ctx, id) })
}

func (g *guarded) SaveSettings(ctx context.Context, s domain.Settings) error {
	return g.exec(ctx, func(a storage.Adapter) error { return a.SaveSettings(ctx, s) })
}

func (g *guarded) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	return write(ctx, g.c, func(a storage.Adapter) (domain.Settings, error) {
		return a.UpdateSettings(ctx, patch)
	})
}

func (g *guarded) ImportAll(ctx context.Context, snap domain.Snapshot) error {
	return g.exec(ctx, func(a storage.Adapter) error { return a.ImportAll(ctx, snap) })
}

func (g *guarded) ClearAll(ctx context.Context) error {
	return g.exec(ctx, func(a storage.Adapter) error { return a.ClearAll(ctx) })
}

var _ storage.Adapter = (*guarded)(nil)
