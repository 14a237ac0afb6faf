package storage

import (
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
)

// The helpers below hold the rules both backends apply before writing, so
// that ids, timestamps and validation never differ between them.

func stamp(id *string, created, updated *time.Time, now time.Time) {
	if *id == "" {
		*id = domain.NewID()
	}
	if created.IsZero() {
		*created = now
	}
	*created = created.UTC()
	if updated.IsZero() {
		*updated = *created
	}
	*updated = updated.UTC()
}

// PrepareTransaction fills in id and timestamps and validates tx.
func PrepareTransaction(tx domain.Transaction, now time.Time) (domain.Transaction, error) {
	stamp(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt, now)
	return tx, tx.Validate()
}

// PrepareBudget fills in id and timestamps and validates b.
func PrepareBudget(b domain.Budget, now time.Time) (domain.Budget, error) {
	stamp(&b.ID, &b.CreatedAt, &b.UpdatedAt, now)
	return b, b.Validate()
}

// PrepareRecurring fills in id and timestamps and validates r. A zero next
// occurrence is derived from the schedule, so a template that already
// generated instances resumes after LastGenerated instead of at its start.
func PrepareRecurring(r domain.RecurringTemplate, now time.Time) (domain.RecurringTemplate, error) {
	stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt, now)
	if r.NextOccurrence == (domain.RecurringTemplate{}).NextOccurrence {
		r.NextOccurrence = r.StartDate
		if next, err := r.ExpectedNext(); err == nil {
			r.NextOccurrence = next
		}
	}
	return r, r.Validate()
}

// Filter returns the elements of items for which keep is true. The result
// is never nil.
func Filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
