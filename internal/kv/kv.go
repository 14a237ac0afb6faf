// Package kv is the slot store behind the flat backend and the process
// flags (migration status, backup, last sync time, leases).
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("kv: key not found")

// Slot keys. Every value is UTF-8 JSON text.
const (
	KeyTransactions       = "monera.transactions"
	KeyBudgets            = "monera.budgets"
	KeyRecurring          = "monera.recurring"
	KeySettings           = "monera.settings"
	KeyMigrationStatus    = "monera.migration.status"
	KeyMigrationBackup    = "monera.migration.backup"
	KeyMigrationTimestamp = "monera.migration.timestamp"
	KeySyncLast           = "monera.sync.last"
	KeyLeasePrefix        = "monera.lease."
)

// Store is a flat key/value store.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// SetNX writes value under key only when key is absent, atomically
	// with respect to every other writer of the store. It reports whether
	// the value was written.
	SetNX(ctx context.Context, key string, value []byte) (bool, error)

	// CompareAndDelete removes key only while it still holds old and
	// reports whether it did.
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)

	// Keys lists the keys starting with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
