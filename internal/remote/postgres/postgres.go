// Package postgres stores the remote collections in PostgreSQL through the
// pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
)

//go:embed migrations/*.sql
var migrations embed.FS

// NormalizeURL rewrites postgresql:// to postgres:// and defaults sslmode to
// disable.
func NormalizeURL(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "postgresql://") {
		databaseURL = "postgres://" + strings.TrimPrefix(databaseURL, "postgresql://")
	}
	if !strings.Contains(databaseURL, "sslmode=") {
		separator := "?"
		if strings.Contains(databaseURL, "?") {
			separator = "&"
		}
		databaseURL += separator + "sslmode=disable"
	}
	return databaseURL
}

func openDB(databaseURL string) (*sql.DB, error) {
	config, err := pgx.ParseConfig(NormalizeURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	return stdlib.OpenDB(*config), nil
}

// Migrate applies the embedded schema to the database at databaseURL.
func Migrate(ctx context.Context, databaseURL string) error {
	log := logger.FromContext(ctx)

	db, err := openDB(databaseURL)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("Migrate: driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		driver.Close()
		return fmt.Errorf("Migrate: source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("Migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("Remote schema already up to date")
			return nil
		}
		return fmt.Errorf("Migrate: up: %w", err)
	}
	version, _, _ := m.Version()
	log.Info().Uint("version", version).Msg("Remote schema migrated")
	return nil
}

// Remote implements remote.Remote on PostgreSQL.
type Remote struct {
	db *sql.DB
}

var _ remote.Remote = (*Remote)(nil)

// Open connects, waiting up to retries pings for the server to accept
// connections.
func Open(ctx context.Context, databaseURL string, retries int) (*Remote, error) {
	log := logger.FromContext(ctx)

	db, err := openDB(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres.Open: %w", err)
	}
	if retries < 1 {
		retries = 1
	}
	retryDelay := 2 * time.Second
	for i := 0; ; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if i == retries-1 {
			db.Close()
			return nil, fmt.Errorf("postgres.Open: failed to connect after %d attempts: %w", retries, err)
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", retries).Msg("Database not ready, retrying")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, fmt.Errorf("postgres.Open: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
	return New(db), nil
}

// New wraps an open handle.
func New(db *sql.DB) *Remote {
	return &Remote{db: db}
}

// Close implements the remote.Remote interface.
func (r *Remote) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func dateArg(d civil.Date) string { return d.String() }

func nullDateArg(d *civil.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullDate(t sql.NullTime) *civil.Date {
	if !t.Valid {
		return nil
	}
	d := civil.DateOf(t.Time)
	return &d
}

// ---- transactions ----

const transactionColumns = `id, user_id, title, amount, category, type, date, description,
	is_recurring, recurring_id, original_currency, created_at, updated_at`

func scanTransaction(s scanner) (remote.TransactionRow, error) {
	var (
		row  remote.TransactionRow
		date time.Time
	)
	err := s.Scan(&row.ID, &row.UserID, &row.Title, &row.Amount, &row.Category, &row.Type, &date,
		&row.Description, &row.IsRecurring, &row.RecurringID, &row.OriginalCurrency,
		&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return row, err
	}
	row.Date = civil.DateOf(date)
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	return row, nil
}

// UpsertTransaction implements the remote.Remote interface.
func (r *Remote) UpsertTransaction(ctx context.Context, row remote.TransactionRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			title = EXCLUDED.title,
			amount = EXCLUDED.amount,
			category = EXCLUDED.category,
			type = EXCLUDED.type,
			date = EXCLUDED.date,
			description = EXCLUDED.description,
			is_recurring = EXCLUDED.is_recurring,
			recurring_id = EXCLUDED.recurring_id,
			original_currency = EXCLUDED.original_currency,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		row.ID, row.UserID, row.Title, row.Amount, row.Category, row.Type, dateArg(row.Date),
		row.Description, row.IsRecurring, row.RecurringID, row.OriginalCurrency,
		row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertTransaction: %w", err)
	}
	return nil
}

// FetchTransactions implements the remote.Remote interface.
func (r *Remote) FetchTransactions(ctx context.Context, userID string) ([]remote.TransactionRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+`
		FROM transactions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("FetchTransactions: %w", err)
	}
	defer rows.Close()

	out := make([]remote.TransactionRow, 0)
	for rows.Next() {
		row, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("FetchTransactions: scan: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FetchTransactions: %w", err)
	}
	return out, nil
}

// DeleteTransaction implements the remote.Remote interface.
func (r *Remote) DeleteTransaction(ctx context.Context, userID, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = $1 AND id = $2`, userID, id); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

// ---- recurring templates ----

const recurringColumns = `id, user_id, title, amount, category, type, frequency, start_date,
	end_date, last_generated, next_occurrence, is_active, description, original_currency,
	created_at, updated_at`

func scanRecurring(s scanner) (remote.RecurringRow, error) {
	var (
		row                 remote.RecurringRow
		start, next         time.Time
		endDate, lastGenned sql.NullTime
	)
	err := s.Scan(&row.ID, &row.UserID, &row.Title, &row.Amount, &row.Category, &row.Type,
		&row.Frequency, &start, &endDate, &lastGenned, &next, &row.IsActive, &row.Description,
		&row.OriginalCurrency, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return row, err
	}
	row.StartDate = civil.DateOf(start)
	row.NextOccurrence = civil.DateOf(next)
	row.EndDate = nullDate(endDate)
	row.LastGenerated = nullDate(lastGenned)
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	return row, nil
}

// UpsertRecurring implements the remote.Remote interface.
func (r *Remote) UpsertRecurring(ctx context.Context, row remote.RecurringRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_transactions (`+recurringColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			title = EXCLUDED.title,
			amount = EXCLUDED.amount,
			category = EXCLUDED.category,
			type = EXCLUDED.type,
			frequency = EXCLUDED.frequency,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			last_generated = EXCLUDED.last_generated,
			next_occurrence = EXCLUDED.next_occurrence,
			is_active = EXCLUDED.is_active,
			description = EXCLUDED.description,
			original_currency = EXCLUDED.original_currency,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		row.ID, row.UserID, row.Title, row.Amount, row.Category, row.Type, row.Frequency,
		dateArg(row.StartDate), nullDateArg(row.EndDate), nullDateArg(row.LastGenerated),
		dateArg(row.NextOccurrence), row.IsActive, row.Description, row.OriginalCurrency,
		row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertRecurring: %w", err)
	}
	return nil
}

// FetchRecurring implements the remote.Remote interface.
func (r *Remote) FetchRecurring(ctx context.Context, userID string) ([]remote.RecurringRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recurringColumns+`
		FROM recurring_transactions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("FetchRecurring: %w", err)
	}
	defer rows.Close()

	out := make([]remote.RecurringRow, 0)
	for rows.Next() {
		row, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("FetchRecurring: scan: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FetchRecurring: %w", err)
	}
	return out, nil
}

// DeleteRecurring implements the remote.Remote interface.
func (r *Remote) DeleteRecurring(ctx context.Context, userID, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM recurring_transactions WHERE user_id = $1 AND id = $2`, userID, id); err != nil {
		return fmt.Errorf("DeleteRecurring: %w", err)
	}
	return nil
}

// ---- budgets ----

const budgetColumns = `id, user_id, category, monthly_limit, alert_threshold, is_active,
	currency, created_at, updated_at`

func scanBudget(s scanner) (remote.BudgetRow, error) {
	var row remote.BudgetRow
	err := s.Scan(&row.ID, &row.UserID, &row.Category, &row.MonthlyLimit, &row.AlertThreshold,
		&row.IsActive, &row.Currency, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return row, err
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	return row, nil
}

// UpsertBudget implements the remote.Remote interface.
func (r *Remote) UpsertBudget(ctx context.Context, row remote.BudgetRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			category = EXCLUDED.category,
			monthly_limit = EXCLUDED.monthly_limit,
			alert_threshold = EXCLUDED.alert_threshold,
			is_active = EXCLUDED.is_active,
			currency = EXCLUDED.currency,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		row.ID, row.UserID, row.Category, row.MonthlyLimit, row.AlertThreshold, row.IsActive,
		row.Currency, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("UpsertBudget: %w", err)
	}
	return nil
}

// FetchBudgets implements the remote.Remote interface.
func (r *Remote) FetchBudgets(ctx context.Context, userID string) ([]remote.BudgetRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+budgetColumns+`
		FROM budgets WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("FetchBudgets: %w", err)
	}
	defer rows.Close()

	out := make([]remote.BudgetRow, 0)
	for rows.Next() {
		row, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("FetchBudgets: scan: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FetchBudgets: %w", err)
	}
	return out, nil
}

// DeleteBudget implements the remote.Remote interface.
func (r *Remote) DeleteBudget(ctx context.Context, userID, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE user_id = $1 AND id = $2`, userID, id); err != nil {
		return fmt.Errorf("DeleteBudget: %w", err)
	}
	return nil
}
