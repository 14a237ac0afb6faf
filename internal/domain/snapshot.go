package domain

import "time"

// SnapshotVersion tags the export format.
const SnapshotVersion = "1.0"

// Snapshot is a complete export of one store. Importing a snapshot replaces
// the whole target dataset.
type Snapshot struct {
	Transactions []Transaction       `json:"transactions"`
	Budgets      []Budget            `json:"budgets"`
	Recurring    []RecurringTemplate `json:"recurring"`
	Settings     *Settings           `json:"settings"`
	ExportedAt   time.Time           `json:"exportedAt"`
	Version      string              `json:"version"`
}

// Stats returns the per-family counts of the snapshot.
func (s Snapshot) Stats() Stats {
	return Stats{
		Transactions: len(s.Transactions),
		Budgets:      len(s.Budgets),
		Recurring:    len(s.Recurring),
		HasSettings:  s.Settings != nil,
	}
}

// Stats summarises what a store holds.
type Stats struct {
	Transactions int  `json:"transactions"`
	Budgets      int  `json:"budgets"`
	Recurring    int  `json:"recurring"`
	HasSettings  bool `json:"hasSettings"`
}

// HasData reports whether any record or a settings row is present.
func (s Stats) HasData() bool {
	return s.Transactions > 0 || s.Budgets > 0 || s.Recurring > 0 || s.HasSettings
}

// SameCounts compares the entity counts of two stats. The settings flag is
// not part of the comparison.
func (s Stats) SameCounts(other Stats) bool {
	return s.Transactions == other.Transactions &&
		s.Budgets == other.Budgets &&
		s.Recurring == other.Recurring
}
