// Package bigquery stores the remote collections in BigQuery tables, upserting
// with MERGE statements keyed by id.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
)

// Table names.
const (
	transactionsTable = "transactions"
	recurringTable    = "recurring_transactions"
	budgetsTable      = "budgets"
)

// numericScale is the fixed scale of the BigQuery NUMERIC type.
const numericScale = 9

type transactionRow struct {
	ID               string     `bigquery:"id"`
	UserID           string     `bigquery:"user_id"`
	Title            string     `bigquery:"title"`
	Amount           *big.Rat   `bigquery:"amount"` // NUMERIC
	Category         string     `bigquery:"category"`
	Type             string     `bigquery:"type"`
	Date             civil.Date `bigquery:"date"`
	Description      string     `bigquery:"description"`
	IsRecurring      bool       `bigquery:"is_recurring"`
	RecurringID      string     `bigquery:"recurring_id"`
	OriginalCurrency string     `bigquery:"original_currency"`
	CreatedAt        time.Time  `bigquery:"created_at"`
	UpdatedAt        time.Time  `bigquery:"updated_at"`
}

type recurringRow struct {
	ID               string            `bigquery:"id"`
	UserID           string            `bigquery:"user_id"`
	Title            string            `bigquery:"title"`
	Amount           *big.Rat          `bigquery:"amount"` // NUMERIC
	Category         string            `bigquery:"category"`
	Type             string            `bigquery:"type"`
	Frequency        string            `bigquery:"frequency"`
	StartDate        civil.Date        `bigquery:"start_date"`
	EndDate          bigquery.NullDate `bigquery:"end_date"`       // DATE, NULLABLE
	LastGenerated    bigquery.NullDate `bigquery:"last_generated"` // DATE, NULLABLE
	NextOccurrence   civil.Date        `bigquery:"next_occurrence"`
	IsActive         bool              `bigquery:"is_active"`
	Description      string            `bigquery:"description"`
	OriginalCurrency string            `bigquery:"original_currency"`
	CreatedAt        time.Time         `bigquery:"created_at"`
	UpdatedAt        time.Time         `bigquery:"updated_at"`
}

type budgetRow struct {
	ID             string    `bigquery:"id"`
	UserID         string    `bigquery:"user_id"`
	Category       string    `bigquery:"category"`
	MonthlyLimit   *big.Rat  `bigquery:"monthly_limit"` // NUMERIC
	AlertThreshold int64     `bigquery:"alert_threshold"`
	IsActive       bool      `bigquery:"is_active"`
	Currency       string    `bigquery:"currency"`
	CreatedAt      time.Time `bigquery:"created_at"`
	UpdatedAt      time.Time `bigquery:"updated_at"`
}

// Remote implements remote.Remote on BigQuery.
type Remote struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

var _ remote.Remote = (*Remote)(nil)

// Open creates a client for projectID and addresses tables in datasetID.
func Open(ctx context.Context, projectID, datasetID string) (*Remote, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery.Open: creating client: %w", err)
	}
	return New(client, projectID, datasetID), nil
}

// New wraps an existing client.
func New(client *bigquery.Client, projectID, datasetID string) *Remote {
	return &Remote{client: client, projectID: projectID, datasetID: datasetID}
}

// Close implements the remote.Remote interface.
func (r *Remote) Close() error {
	return r.client.Close()
}

// EnsureTables creates any missing table with a schema inferred from the row
// types.
func (r *Remote) EnsureTables(ctx context.Context) error {
	log := logger.FromContext(ctx)

	tables := []struct {
		name string
		row  any
	}{
		{transactionsTable, transactionRow{}},
		{recurringTable, recurringRow{}},
		{budgetsTable, budgetRow{}},
	}
	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.row)
		if err != nil {
			return fmt.Errorf("EnsureTables: inferring %s schema: %w", t.name, err)
		}
		err = r.client.Dataset(r.datasetID).Table(t.name).Create(ctx, &bigquery.TableMetadata{Schema: schema})
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			continue
		}
		if err != nil {
			return fmt.Errorf("EnsureTables: creating %s: %w", t.name, err)
		}
		log.Info().Str("table", t.name).Msg("Created BigQuery table")
	}
	return nil
}

func (r *Remote) table(name string) string {
	return "`" + r.projectID + "." + r.datasetID + "." + name + "`"
}

// mergeSQL builds a MERGE that inserts or fully overwrites the row whose id
// matches @id. Every column is bound as a parameter of the same name.
func mergeSQL(table string, columns []string) string {
	source := make([]string, len(columns))
	values := make([]string, len(columns))
	var sets []string
	for i, c := range columns {
		source[i] = "@" + c + " AS " + c
		values[i] = "S." + c
		if c != "id" {
			sets = append(sets, c+" = S."+c)
		}
	}
	return "MERGE " + table + " T\n" +
		"USING (SELECT " + strings.Join(source, ", ") + ") S\n" +
		"ON T.id = S.id\n" +
		"WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ", ") + "\n" +
		"WHEN NOT MATCHED THEN INSERT (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"
}

// exec runs a DML statement and waits for it to finish.
func (r *Remote) exec(ctx context.Context, op, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}

// read runs a query and decodes every row into T.
func read[T any](ctx context.Context, r *Remote, op, sql string, params []bigquery.QueryParameter) ([]T, error) {
	q := r.client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: reading query: %w", op, err)
	}

	out := make([]T, 0)
	for {
		var row T
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iterating: %w", op, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *Remote) remove(ctx context.Context, op, table, userID, id string) error {
	sql := "DELETE FROM " + r.table(table) + " WHERE user_id = @user_id AND id = @id"
	return r.exec(ctx, op, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "id", Value: id},
	})
}

func fetchSQL(table string) string {
	return "SELECT * FROM " + table + " WHERE user_id = @user_id ORDER BY created_at, id"
}

func fromRat(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.RequireFromString(r.FloatString(numericScale))
}

func nullDate(d *civil.Date) bigquery.NullDate {
	if d == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: *d, Valid: true}
}

func datePtr(d bigquery.NullDate) *civil.Date {
	if !d.Valid {
		return nil
	}
	v := d.Date
	return &v
}

// ---- transactions ----

var transactionColumns = []string{"id", "user_id", "title", "amount", "category", "type", "date",
	"description", "is_recurring", "recurring_id", "original_currency", "created_at", "updated_at"}

// UpsertTransaction implements the remote.Remote interface.
func (r *Remote) UpsertTransaction(ctx context.Context, row remote.TransactionRow) error {
	return r.exec(ctx, "UpsertTransaction", mergeSQL(r.table(transactionsTable), transactionColumns), []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "user_id", Value: row.UserID},
		{Name: "title", Value: row.Title},
		{Name: "amount", Value: row.Amount.Rat()},
		{Name: "category", Value: row.Category},
		{Name: "type", Value: row.Type},
		{Name: "date", Value: row.Date},
		{Name: "description", Value: row.Description},
		{Name: "is_recurring", Value: row.IsRecurring},
		{Name: "recurring_id", Value: row.RecurringID},
		{Name: "original_currency", Value: row.OriginalCurrency},
		{Name: "created_at", Value: row.CreatedAt.UTC()},
		{Name: "updated_at", Value: row.UpdatedAt.UTC()},
	})
}

// FetchTransactions implements the remote.Remote interface.
func (r *Remote) FetchTransactions(ctx context.Context, userID string) ([]remote.TransactionRow, error) {
	rows, err := read[transactionRow](ctx, r, "FetchTransactions", fetchSQL(r.table(transactionsTable)),
		[]bigquery.QueryParameter{{Name: "user_id", Value: userID}})
	if err != nil {
		return nil, err
	}
	out := make([]remote.TransactionRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, remote.TransactionRow{
			ID:               row.ID,
			UserID:           row.UserID,
			Title:            row.Title,
			Amount:           fromRat(row.Amount),
			Category:         row.Category,
			Type:             row.Type,
			Date:             row.Date,
			Description:      row.Description,
			IsRecurring:      row.IsRecurring,
			RecurringID:      row.RecurringID,
			OriginalCurrency: row.OriginalCurrency,
			CreatedAt:        row.CreatedAt.UTC(),
			UpdatedAt:        row.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

// DeleteTransaction implements the remote.Remote interface.
func (r *Remote) DeleteTransaction(ctx context.Context, userID, id string) error {
	return r.remove(ctx, "DeleteTransaction", transactionsTable, userID, id)
}

// ---- recurring templates ----

var recurringColumns = []string{"id", "user_id", "title", "amount", "category", "type", "frequency",
	"start_date", "end_date", "last_generated", "next_occurrence", "is_active", "description",
	"original_currency", "created_at", "updated_at"}

// UpsertRecurring implements the remote.Remote interface.
func (r *Remote) UpsertRecurring(ctx context.Context, row remote.RecurringRow) error {
	return r.exec(ctx, "UpsertRecurring", mergeSQL(r.table(recurringTable), recurringColumns), []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "user_id", Value: row.UserID},
		{Name: "title", Value: row.Title},
		{Name: "amount", Value: row.Amount.Rat()},
		{Name: "category", Value: row.Category},
		{Name: "type", Value: row.Type},
		{Name: "frequency", Value: row.Frequency},
		{Name: "start_date", Value: row.StartDate},
		{Name: "end_date", Value: nullDate(row.EndDate)},
		{Name: "last_generated", Value: nullDate(row.LastGenerated)},
		{Name: "next_occurrence", Value: row.NextOccurrence},
		{Name: "is_active", Value: row.IsActive},
		{Name: "description", Value: row.Description},
		{Name: "original_currency", Value: row.OriginalCurrency},
		{Name: "created_at", Value: row.CreatedAt.UTC()},
		{Name: "updated_at", Value: row.UpdatedAt.UTC()},
	})
}

// FetchRecurring implements the remote.Remote interface.
func (r *Remote) FetchRecurring(ctx context.Context, userID string) ([]remote.RecurringRow, error) {
	rows, err := read[recurringRow](ctx, r, "FetchRecurring", fetchSQL(r.table(recurringTable)),
		[]bigquery.QueryParameter{{Name: "user_id", Value: userID}})
	if err != nil {
		return nil, err
	}
	out := make([]remote.RecurringRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, remote.RecurringRow{
			ID:               row.ID,
			UserID:           row.UserID,
			Title:            row.Title,
			Amount:           fromRat(row.Amount),
			Category:         row.Category,
			Type:             row.Type,
			Frequency:        row.Frequency,
			StartDate:        row.StartDate,
			EndDate:          datePtr(row.EndDate),
			LastGenerated:    datePtr(row.LastGenerated),
			NextOccurrence:   row.NextOccurrence,
			IsActive:         row.IsActive,
			Description:      row.Description,
			OriginalCurrency: row.OriginalCurrency,
			CreatedAt:        row.CreatedAt.UTC(),
			UpdatedAt:        row.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

// DeleteRecurring implements the remote.Remote interface.
func (r *Remote) DeleteRecurring(ctx context.Context, userID, id string) error {
	return r.remove(ctx, "DeleteRecurring", recurringTable, userID, id)
}

// ---- budgets ----

var budgetColumns = []string{"id", "user_id", "category", "monthly_limit", "alert_threshold",
	"is_active", "currency", "created_at", "updated_at"}

// UpsertBudget implements the remote.Remote interface.
func (r *Remote) UpsertBudget(ctx context.Context, row remote.BudgetRow) error {
	return r.exec(ctx, "UpsertBudget", mergeSQL(r.table(budgetsTable), budgetColumns), []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "user_id", Value: row.UserID},
		{Name: "category", Value: row.Category},
		{Name: "monthly_limit", Value: row.MonthlyLimit.Rat()},
		{Name: "alert_threshold", Value: int64(row.AlertThreshold)},
		{Name: "is_active", Value: row.IsActive},
		{Name: "currency", Value: row.Currency},
		{Name: "created_at", Value: row.CreatedAt.UTC()},
		{Name: "updated_at", Value: row.UpdatedAt.UTC()},
	})
}

// FetchBudgets implements the remote.Remote interface.
func (r *Remote) FetchBudgets(ctx context.Context, userID string) ([]remote.BudgetRow, error) {
	rows, err := read[budgetRow](ctx, r, "FetchBudgets", fetchSQL(r.table(budgetsTable)),
		[]bigquery.QueryParameter{{Name: "user_id", Value: userID}})
	if err != nil {
		return nil, err
	}
	out := make([]remote.BudgetRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, remote.BudgetRow{
			ID:             row.ID,
			UserID:         row.UserID,
			Category:       row.Category,
			MonthlyLimit:   fromRat(row.MonthlyLimit),
			AlertThreshold: int(row.AlertThreshold),
			IsActive:       row.IsActive,
			Currency:       row.Currency,
			CreatedAt:      row.CreatedAt.UTC(),
			UpdatedAt:      row.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

// DeleteBudget implements the remote.Remote interface.
func (r *Remote) DeleteBudget(ctx context.Context, userID, id string) error {
	return r.remove(ctx, "DeleteBudget", budgetsTable, userID, id)
}
