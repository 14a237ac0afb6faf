// Package migration moves data from the flat backend to the structured one
// exactly once, keeping a backup that allows a rollback.
package migration

import (
	"errors"
	"fmt"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
)

// State is the persisted migration flag.
type State string

const (
	StateNotStarted     State = "not-started"
	StateFlatOnly       State = "flat-only"
	StateStructuredOnly State = "structured-only"
	StateBoth           State = "both"
	StateMigrating      State = "migrating"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNotStarted, StateFlatOnly, StateStructuredOnly, StateBoth, StateMigrating:
		return true
	}
	return false
}

// needsMigration reports whether a forward migration should run from s. A
// run interrupted mid-flight is retried from scratch.
func (s State) needsMigration() bool {
	return s == StateFlatOnly || s == StateMigrating
}

var (
	// ErrNoBackup is returned by Rollback when no backup snapshot exists.
	ErrNoBackup = errors.New("no migration backup available")

	// ErrStructuredUnavailable is returned when an operation needs the
	// structured backend and it could not be opened.
	ErrStructuredUnavailable = errors.New("structured backend unavailable")
)

// VerificationError reports a count mismatch between the exported snapshot
// and the structured backend after import. The flag stays at migrating.
type VerificationError struct {
	Expected domain.Stats
	Actual   domain.Stats
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf(
		"migration verification failed: expected %d transactions, %d budgets, %d recurring; got %d, %d, %d",
		e.Expected.Transactions, e.Expected.Budgets, e.Expected.Recurring,
		e.Actual.Transactions, e.Actual.Budgets, e.Actual.Recurring)
}

// Result describes one Migrate or Rollback call.
type Result struct {
	// Skipped is set when the call was turned away because another run was
	// already in progress.
	Skipped bool         `json:"skipped"`
	From    State        `json:"from"`
	To      State        `json:"to"`
	Stats   domain.Stats `json:"stats"`
}

// Status is the externally visible migration state.
type Status struct {
	State           State         `json:"state"`
	HasBackup       bool          `json:"hasBackup"`
	BackupTakenAt   *time.Time    `json:"backupTakenAt,omitempty"`
	FlatStats       domain.Stats  `json:"flatStats"`
	StructuredStats *domain.Stats `json:"structuredStats,omitempty"`
}
