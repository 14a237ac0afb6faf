package importer

import (
	"context"
	"fmt"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/guard"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// Mode selects how incoming data meets the existing dataset.
type Mode string

const (
	// ModeReplace discards the existing dataset.
	ModeReplace Mode = "replace"
	// ModeMerge keeps existing records and adds incoming ones whose ids are
	// not present yet.
	ModeMerge Mode = "merge"
)

// ParseMode maps a user value to a Mode. Empty means merge.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("unknown import mode %q", s)
}

// Source resolves the adapter to import into.
type Source interface {
	Active(ctx context.Context) (storage.Adapter, error)
}

// Result reports an import. Counts are records written by this import.
type Result struct {
	Mode         Mode `json:"mode"`
	Transactions int  `json:"transactions"`
	Budgets      int  `json:"budgets"`
	Recurring    int  `json:"recurring"`
	Skipped      bool `json:"skipped,omitempty"`
}

// Importer loads parsed payloads into the active store. Only one import
// runs at a time; a second one is turned away.
type Importer struct {
	source Source
	guard  guard.Guard
}

// New returns an importer writing through source.
func New(source Source) *Importer {
	return &Importer{source: source}
}

// Import loads snap. Replace hands snap to the store's bulk import as is;
// merge first combines it with the current export. An incoming active budget
// whose category already has an active budget is dropped in merge mode.
func (im *Importer) Import(ctx context.Context, snap domain.Snapshot, mode Mode) (Result, error) {
	log := logger.ComponentFromContext(ctx, "import")

	if !im.guard.TryEnter() {
		log.Info().Msg("Import already running, skipping")
		return Result{Mode: mode, Skipped: true}, nil
	}
	defer im.guard.Leave()

	local, err := im.source.Active(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Import: resolving store: %w", err)
	}

	res := Result{Mode: mode}
	target := snap
	switch mode {
	case ModeReplace:
		res.Transactions = len(snap.Transactions)
		res.Budgets = len(snap.Budgets)
		res.Recurring = len(snap.Recurring)
	case ModeMerge:
		current, err := local.ExportAll(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("Import: exporting current data: %w", err)
		}
		target, res = merge(current, snap)
		res.Mode = mode
	default:
		return Result{}, fmt.Errorf("Import: unknown mode %q", mode)
	}

	if err := local.ImportAll(ctx, target); err != nil {
		return Result{}, fmt.Errorf("Import: %w", err)
	}

	log.Info().
		Str("mode", string(mode)).
		Str("backend", string(local.Backend())).
		Int("transactions", res.Transactions).
		Int("budgets", res.Budgets).
		Int("recurring", res.Recurring).
		Msg("Import completed")

	return res, nil
}

// ImportTransactions loads CSV-sourced transactions. Replace swaps out the
// transaction family only; budgets, templates and settings are kept.
func (im *Importer) ImportTransactions(ctx context.Context, txs []domain.Transaction, mode Mode) (Result, error) {
	if mode != ModeReplace {
		return im.Import(ctx, domain.Snapshot{Transactions: txs}, mode)
	}

	local, err := im.source.Active(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ImportTransactions: resolving store: %w", err)
	}
	current, err := local.ExportAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ImportTransactions: exporting current data: %w", err)
	}
	current.Transactions = txs
	res, err := im.Import(ctx, current, ModeReplace)
	if err != nil {
		return res, err
	}
	res.Budgets, res.Recurring = 0, 0
	return res, nil
}

func merge(current, incoming domain.Snapshot) (domain.Snapshot, Result) {
	var res Result
	out := current

	txIDs := make(map[string]struct{}, len(current.Transactions))
	for _, t := range current.Transactions {
		txIDs[t.ID] = struct{}{}
	}
	for _, t := range incoming.Transactions {
		if _, ok := txIDs[t.ID]; ok {
			continue
		}
		out.Transactions = append(out.Transactions, t)
		res.Transactions++
	}

	budgetIDs := make(map[string]struct{}, len(current.Budgets))
	for _, b := range current.Budgets {
		budgetIDs[b.ID] = struct{}{}
	}
	for _, b := range incoming.Budgets {
		if _, ok := budgetIDs[b.ID]; ok {
			continue
		}
		if _, clash := domain.ConflictingActiveBudget(b, out.Budgets); clash {
			continue
		}
		out.Budgets = append(out.Budgets, b)
		res.Budgets++
	}

	recurringIDs := make(map[string]struct{}, len(current.Recurring))
	for _, r := range current.Recurring {
		recurringIDs[r.ID] = struct{}{}
	}
	for _, r := range incoming.Recurring {
		if _, ok := recurringIDs[r.ID]; ok {
			continue
		}
		out.Recurring = append(out.Recurring, r)
		res.Recurring++
	}

	if out.Settings == nil {
		out.Settings = incoming.Settings
	}
	return out, res
}
