// Package importer parses user-supplied JSON snapshots and CSV transaction
// files and loads them into the active store.
package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// ValidationError rejects a payload as a whole. Nothing is imported.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	switch len(e.Problems) {
	case 0:
		return "invalid import payload"
	case 1:
		return "invalid import payload: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid import payload (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Problems: p}
}

var categories = domain.NewCategoryValidator(nil)

// describe renders a validation failure without the record prefix the
// domain errors carry.
func describe(err error) string {
	for _, known := range []error{
		domain.ErrMissingField, domain.ErrInvalidAmount, domain.ErrInvalidType,
		domain.ErrInvalidFrequency, domain.ErrInvalidThreshold, domain.ErrInvalidDateRange,
	} {
		if errors.Is(err, known) {
			msg := err.Error()
			if i := strings.Index(msg, ": "); i >= 0 {
				return msg[i+2:]
			}
			return known.Error()
		}
	}
	return err.Error()
}

// normalize fills in missing ids and timestamps, canonicalises known
// categories and validates every record of snap.
func normalize(snap domain.Snapshot, now time.Time) (domain.Snapshot, error) {
	var probs problems
	seen := make(map[string]struct{})
	dup := func(family, id string) bool {
		if id == "" {
			return false
		}
		key := family + "/" + id
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
		return false
	}

	txs := make([]domain.Transaction, 0, len(snap.Transactions))
	for i, t := range snap.Transactions {
		if dup("transactions", t.ID) {
			probs.addf("transactions[%d]: duplicate id %q", i, t.ID)
			continue
		}
		t.Category, _ = categories.Canonical(t.Type, t.Category)
		t, err := storage.PrepareTransaction(t, now)
		if err != nil {
			probs.addf("transactions[%d]: %s", i, describe(err))
			continue
		}
		txs = append(txs, t)
	}

	budgets := make([]domain.Budget, 0, len(snap.Budgets))
	for i, b := range snap.Budgets {
		if dup("budgets", b.ID) {
			probs.addf("budgets[%d]: duplicate id %q", i, b.ID)
			continue
		}
		b, err := storage.PrepareBudget(b, now)
		if err != nil {
			probs.addf("budgets[%d]: %s", i, describe(err))
			continue
		}
		if other, ok := domain.ConflictingActiveBudget(b, budgets); ok {
			probs.addf("budgets[%d]: category %q already has active budget %q", i, b.Category, other)
			continue
		}
		budgets = append(budgets, b)
	}

	recurring := make([]domain.RecurringTemplate, 0, len(snap.Recurring))
	for i, r := range snap.Recurring {
		if dup("recurring", r.ID) {
			probs.addf("recurring[%d]: duplicate id %q", i, r.ID)
			continue
		}
		r.Category, _ = categories.Canonical(r.Type, r.Category)
		r, err := storage.PrepareRecurring(r, now)
		if err != nil {
			probs.addf("recurring[%d]: %s", i, describe(err))
			continue
		}
		recurring = append(recurring, r)
	}

	if err := probs.err(); err != nil {
		return domain.Snapshot{}, err
	}
	snap.Transactions, snap.Budgets, snap.Recurring = txs, budgets, recurring
	return snap, nil
}

// ParseJSON decodes an exported snapshot and validates every record.
func ParseJSON(r io.Reader) (domain.Snapshot, error) {
	var snap domain.Snapshot
	dec := json.NewDecoder(r)
	if err := dec.Decode(&snap); err != nil {
		return domain.Snapshot{}, &ValidationError{Problems: []string{"malformed JSON: " + err.Error()}}
	}
	if snap.Version != "" && !strings.HasPrefix(snap.Version, "1.") && snap.Version != "1" {
		return domain.Snapshot{}, &ValidationError{Problems: []string{fmt.Sprintf("unsupported snapshot version %q", snap.Version)}}
	}
	return normalize(snap, domain.Now())
}

// CSV columns. Header names are matched case-insensitively; the order is
// free.
const (
	colID          = "id"
	colDate        = "date"
	colTitle       = "title"
	colAmount      = "amount"
	colCategory    = "category"
	colType        = "type"
	colDescription = "description"
	colCurrency    = "currency"
)

var requiredColumns = []string{colDate, colTitle, colAmount, colCategory, colType}

// ParseCSV reads transactions from a CSV file with a header row. Required
// columns are date (YYYY-MM-DD), title, amount, category and type; id,
// description and currency are optional. Any malformed row rejects the
// whole file.
func ParseCSV(r io.Reader) ([]domain.Transaction, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Problems: []string{"empty file"}}
	}
	if err != nil {
		return nil, &ValidationError{Problems: []string{"header: " + err.Error()}}
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var probs problems
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			probs.addf("header: missing column %q", name)
		}
	}
	if err := probs.err(); err != nil {
		return nil, err
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		txs  []domain.Transaction
		seen = make(map[string]struct{})
		now  = domain.Now()
	)
	line := 1
	for {
		line++
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			probs.addf("line %d: %v", line, err)
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		tx := domain.Transaction{
			ID:          field(rec, colID),
			Title:       field(rec, colTitle),
			Type:        domain.TransactionType(strings.ToLower(field(rec, colType))),
			Description: field(rec, colDescription),
			Currency:    strings.ToUpper(field(rec, colCurrency)),
		}
		tx.Category, _ = categories.Canonical(tx.Type, field(rec, colCategory))
		if tx.Date, err = civil.ParseDate(field(rec, colDate)); err != nil {
			probs.addf("line %d: date %q is not YYYY-MM-DD", line, field(rec, colDate))
			continue
		}
		raw := strings.ReplaceAll(field(rec, colAmount), ",", "")
		if tx.Amount, err = decimal.NewFromString(raw); err != nil {
			probs.addf("line %d: amount %q is not a number", line, field(rec, colAmount))
			continue
		}
		if tx.ID != "" {
			if _, ok := seen[tx.ID]; ok {
				probs.addf("line %d: duplicate id %q", line, tx.ID)
				continue
			}
			seen[tx.ID] = struct{}{}
		}
		tx, err = storage.PrepareTransaction(tx, now)
		if err != nil {
			probs.addf("line %d: %s", line, describe(err))
			continue
		}
		txs = append(txs, tx)
	}
	if err := probs.err(); err != nil {
		return nil, err
	}
	return txs, nil
}
