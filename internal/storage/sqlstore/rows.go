package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
)

// Dates, amounts and timestamps are stored as TEXT: dates as YYYY-MM-DD,
// amounts as canonical decimal strings, timestamps as RFC3339 in UTC. ISO
// dates sort lexically, which the range and ordering queries rely on.

const (
	transactionColumns = `id, title, amount, category, date, type, description, currency,
	is_recurring, recurring_id, created_at, updated_at`

	budgetColumns = `id, category, monthly_limit, alert_threshold, is_active, currency,
	created_at, updated_at`

	recurringColumns = `id, title, amount, category, type, frequency, start_date, end_date,
	last_generated, next_occurrence, is_active, description, currency, created_at, updated_at`
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nullDate(d *civil.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*civil.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ---- transactions ----

func scanTransaction(row scanner) (domain.Transaction, error) {
	var (
		t                domain.Transaction
		amount, date     string
		created, updated string
		typ              string
	)
	if err := row.Scan(&t.ID, &t.Title, &amount, &t.Category, &date, &typ, &t.Description,
		&t.Currency, &t.IsRecurring, &t.RecurringID, &created, &updated); err != nil {
		return domain.Transaction{}, err
	}
	t.Type = domain.TransactionType(typ)

	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: amount: %w", t.ID, err)
	}
	if t.Date, err = civil.ParseDate(date); err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: date: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: updated_at: %w", t.ID, err)
	}
	return t, nil
}

func insertTransaction(ctx context.Context, q querier, t domain.Transaction) error {
	_, err := q.ExecContext(ctx, `INSERT INTO transactions(`+transactionColumns+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Amount.String(), t.Category, t.Date.String(), string(t.Type),
		t.Description, t.Currency, t.IsRecurring, t.RecurringID,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	return err
}

func updateTransactionRow(ctx context.Context, q querier, t domain.Transaction) error {
	_, err := q.ExecContext(ctx, `UPDATE transactions SET
	title = ?, amount = ?, category = ?, date = ?, type = ?, description = ?, currency = ?,
	is_recurring = ?, recurring_id = ?, updated_at = ?
	WHERE id = ?`,
		t.Title, t.Amount.String(), t.Category, t.Date.String(), string(t.Type),
		t.Description, t.Currency, t.IsRecurring, t.RecurringID, formatTime(t.UpdatedAt), t.ID)
	return err
}

func queryTransactions(ctx context.Context, q querier, where string, args ...any) ([]domain.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY date DESC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func getTransaction(ctx context.Context, q querier, id string) (*domain.Transaction, error) {
	row := q.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ---- budgets ----

func scanBudget(row scanner) (domain.Budget, error) {
	var (
		b                domain.Budget
		limit            string
		created, updated string
	)
	if err := row.Scan(&b.ID, &b.Category, &limit, &b.AlertThreshold, &b.IsActive, &b.Currency,
		&created, &updated); err != nil {
		return domain.Budget{}, err
	}

	var err error
	if b.MonthlyLimit, err = decimal.NewFromString(limit); err != nil {
		return domain.Budget{}, fmt.Errorf("budget %s: monthly_limit: %w", b.ID, err)
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return domain.Budget{}, fmt.Errorf("budget %s: created_at: %w", b.ID, err)
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.Budget{}, fmt.Errorf("budget %s: updated_at: %w", b.ID, err)
	}
	return b, nil
}

func insertBudget(ctx context.Context, q querier, b domain.Budget) error {
	_, err := q.ExecContext(ctx, `INSERT INTO budgets(`+budgetColumns+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Category, b.MonthlyLimit.String(), b.AlertThreshold, b.IsActive, b.Currency,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	return err
}

func updateBudgetRow(ctx context.Context, q querier, b domain.Budget) error {
	_, err := q.ExecContext(ctx, `UPDATE budgets SET
	category = ?, monthly_limit = ?, alert_threshold = ?, is_active = ?, currency = ?, updated_at = ?
	WHERE id = ?`,
		b.Category, b.MonthlyLimit.String(), b.AlertThreshold, b.IsActive, b.Currency,
		formatTime(b.UpdatedAt), b.ID)
	return err
}

func queryBudgets(ctx context.Context, q querier, where string, args ...any) ([]domain.Budget, error) {
	query := "SELECT " + budgetColumns + " FROM budgets"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY category ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Budget{}
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func getBudget(ctx context.Context, q querier, id string) (*domain.Budget, error) {
	row := q.QueryRowContext(ctx, "SELECT "+budgetColumns+" FROM budgets WHERE id = ?", id)
	b, err := scanBudget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ---- recurring templates ----

func scanRecurring(row scanner) (domain.RecurringTemplate, error) {
	var (
		r                   domain.RecurringTemplate
		amount, start, next string
		typ, freq           string
		end, last           sql.NullString
		created, updated    string
	)
	if err := row.Scan(&r.ID, &r.Title, &amount, &r.Category, &typ, &freq, &start, &end,
		&last, &next, &r.IsActive, &r.Description, &r.Currency, &created, &updated); err != nil {
		return domain.RecurringTemplate{}, err
	}
	r.Type = domain.TransactionType(typ)
	r.Frequency = domain.Frequency(freq)

	var err error
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("recurring %s: amount: %w", r.ID, err)
	}
	if r.StartDate, err = civil.ParseDate(start); err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("recurring %s: start_date: %w", r.ID, err)
	}
	if r.NextOccurrence, err = civil.ParseDate(next); err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("recurring %s: next_occurrence: %w", r.ID, err)
	}
	if r.EndDate, err = parseNullDate(end); err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("recurring %s: end_date: %w", r.ID, err)
	}
	if r.LastGenerated, err = parseNullDate(last); err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("recurring %s: last_generated: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("recurring %s: created_at: %w", r.ID, err)
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return domain.RecurringTemplate{}, fmt.Errorf("recurring %s: updated_at: %w", r.ID, err)
	}
	return r, nil
}

func insertRecurring(ctx context.Context, q querier, r domain.RecurringTemplate) error {
	_, err := q.ExecContext(ctx, `INSERT INTO recurring(`+recurringColumns+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Amount.String(), r.Category, string(r.Type), string(r.Frequency),
		r.StartDate.String(), nullDate(r.EndDate), nullDate(r.LastGenerated),
		r.NextOccurrence.String(), r.IsActive, r.Description, r.Currency,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	return err
}

func updateRecurringRow(ctx context.Context, q querier, r domain.RecurringTemplate) error {
	_, err := q.ExecContext(ctx, `UPDATE recurring SET
	title = ?, amount = ?, category = ?, type = ?, frequency = ?, start_date = ?, end_date = ?,
	last_generated = ?, next_occurrence = ?, is_active = ?, description = ?, currency = ?,
	updated_at = ?
	WHERE id = ?`,
		r.Title, r.Amount.String(), r.Category, string(r.Type), string(r.Frequency),
		r.StartDate.String(), nullDate(r.EndDate), nullDate(r.LastGenerated),
		r.NextOccurrence.String(), r.IsActive, r.Description, r.Currency,
		formatTime(r.UpdatedAt), r.ID)
	return err
}

func queryRecurring(ctx context.Context, q querier, where string, args ...any) ([]domain.RecurringTemplate, error) {
	query := "SELECT " + recurringColumns + " FROM recurring"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY next_occurrence ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.RecurringTemplate{}
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getRecurring(ctx context.Context, q querier, id string) (*domain.RecurringTemplate, error) {
	row := q.QueryRowContext(ctx, "SELECT "+recurringColumns+" FROM recurring WHERE id = ?", id)
	r, err := scanRecurring(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
