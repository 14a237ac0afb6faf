// Package mongo stores the remote collections in MongoDB, one document per
// record keyed by the record id.
package mongo

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
)

// Collection names.
const (
	TransactionsCollection = "transactions"
	RecurringCollection    = "recurring_transactions"
	BudgetsCollection      = "budgets"
)

// Remote implements remote.Remote on MongoDB.
type Remote struct {
	client       *mongo.Client
	transactions *mongo.Collection
	recurring    *mongo.Collection
	budgets      *mongo.Collection
}

var _ remote.Remote = (*Remote)(nil)

// Open connects to uri and uses the named database.
func Open(ctx context.Context, uri, dbName string) (*Remote, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(dbName)
	r := &Remote{
		client:       client,
		transactions: database.Collection(TransactionsCollection),
		recurring:    database.Collection(RecurringCollection),
		budgets:      database.Collection(BudgetsCollection),
	}

	log := logger.FromContext(ctx)
	index := mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}}
	for _, c := range []*mongo.Collection{r.transactions, r.recurring, r.budgets} {
		if _, err := c.Indexes().CreateOne(ctx, index); err != nil {
			log.Warn().Err(err).Str("collection", c.Name()).Msg("Failed to create index")
		}
	}
	log.Info().Str("database", dbName).Msg("Successfully connected to MongoDB")
	return r, nil
}

// Close implements the remote.Remote interface.
func (r *Remote) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Amounts and dates are stored as strings so decimals stay exact and dates
// carry no zone.

type transactionDoc struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"user_id"`
	Title            string    `bson:"title"`
	Amount           string    `bson:"amount"`
	Category         string    `bson:"category"`
	Type             string    `bson:"type"`
	Date             string    `bson:"date"`
	Description      string    `bson:"description"`
	IsRecurring      bool      `bson:"is_recurring"`
	RecurringID      string    `bson:"recurring_id"`
	OriginalCurrency string    `bson:"original_currency"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

type recurringDoc struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"user_id"`
	Title            string    `bson:"title"`
	Amount           string    `bson:"amount"`
	Category         string    `bson:"category"`
	Type             string    `bson:"type"`
	Frequency        string    `bson:"frequency"`
	StartDate        string    `bson:"start_date"`
	EndDate          string    `bson:"end_date,omitempty"`
	LastGenerated    string    `bson:"last_generated,omitempty"`
	NextOccurrence   string    `bson:"next_occurrence"`
	IsActive         bool      `bson:"is_active"`
	Description      string    `bson:"description"`
	OriginalCurrency string    `bson:"original_currency"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

type budgetDoc struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"user_id"`
	Category       string    `bson:"category"`
	MonthlyLimit   string    `bson:"monthly_limit"`
	AlertThreshold int       `bson:"alert_threshold"`
	IsActive       bool      `bson:"is_active"`
	Currency       string    `bson:"currency"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func optDate(d *civil.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func parseOptDate(s string) (*civil.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// upsert replaces the document with _id == id, inserting it when absent.
func upsert(ctx context.Context, c *mongo.Collection, id string, doc any) error {
	opts := options.Replace().SetUpsert(true)
	_, err := c.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts)
	return err
}

// fetch decodes every document owned by userID, oldest first.
func fetch[D any](ctx context.Context, c *mongo.Collection, userID string) ([]D, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := c.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := make([]D, 0)
	for cursor.Next(ctx) {
		var d D
		if err := cursor.Decode(&d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, cursor.Err()
}

func remove(ctx context.Context, c *mongo.Collection, userID, id string) error {
	_, err := c.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	return err
}

// ---- transactions ----

// UpsertTransaction implements the remote.Remote interface.
func (r *Remote) UpsertTransaction(ctx context.Context, row remote.TransactionRow) error {
	doc := transactionDoc{
		ID:               row.ID,
		UserID:           row.UserID,
		Title:            row.Title,
		Amount:           row.Amount.String(),
		Category:         row.Category,
		Type:             row.Type,
		Date:             row.Date.String(),
		Description:      row.Description,
		IsRecurring:      row.IsRecurring,
		RecurringID:      row.RecurringID,
		OriginalCurrency: row.OriginalCurrency,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
	if err := upsert(ctx, r.transactions, row.ID, doc); err != nil {
		return fmt.Errorf("UpsertTransaction: %w", err)
	}
	return nil
}

// FetchTransactions implements the remote.Remote interface.
func (r *Remote) FetchTransactions(ctx context.Context, userID string) ([]remote.TransactionRow, error) {
	docs, err := fetch[transactionDoc](ctx, r.transactions, userID)
	if err != nil {
		return nil, fmt.Errorf("FetchTransactions: %w", err)
	}
	out := make([]remote.TransactionRow, 0, len(docs))
	for _, d := range docs {
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil {
			return nil, fmt.Errorf("FetchTransactions: %s: amount: %w", d.ID, err)
		}
		date, err := civil.ParseDate(d.Date)
		if err != nil {
			return nil, fmt.Errorf("FetchTransactions: %s: date: %w", d.ID, err)
		}
		out = append(out, remote.TransactionRow{
			ID:               d.ID,
			UserID:           d.UserID,
			Title:            d.Title,
			Amount:           amount,
			Category:         d.Category,
			Type:             d.Type,
			Date:             date,
			Description:      d.Description,
			IsRecurring:      d.IsRecurring,
			RecurringID:      d.RecurringID,
			OriginalCurrency: d.OriginalCurrency,
			CreatedAt:        d.CreatedAt.UTC(),
			UpdatedAt:        d.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

// DeleteTransaction implements the remote.Remote interface.
func (r *Remote) DeleteTransaction(ctx context.Context, userID, id string) error {
	if err := remove(ctx, r.transactions, userID, id); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

// ---- recurring templates ----

// UpsertRecurring implements the remote.Remote interface.
func (r *Remote) UpsertRecurring(ctx context.Context, row remote.RecurringRow) error {
	doc := recurringDoc{
		ID:               row.ID,
		UserID:           row.UserID,
		Title:            row.Title,
		Amount:           row.Amount.String(),
		Category:         row.Category,
		Type:             row.Type,
		Frequency:        row.Frequency,
		StartDate:        row.StartDate.String(),
		EndDate:          optDate(row.EndDate),
		LastGenerated:    optDate(row.LastGenerated),
		NextOccurrence:   row.NextOccurrence.String(),
		IsActive:         row.IsActive,
		Description:      row.Description,
		OriginalCurrency: row.OriginalCurrency,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
	if err := upsert(ctx, r.recurring, row.ID, doc); err != nil {
		return fmt.Errorf("UpsertRecurring: %w", err)
	}
	return nil
}

func recurringFromDoc(d recurringDoc) (remote.RecurringRow, error) {
	row := remote.RecurringRow{
		ID:               d.ID,
		UserID:           d.UserID,
		Title:            d.Title,
		Category:         d.Category,
		Type:             d.Type,
		Frequency:        d.Frequency,
		IsActive:         d.IsActive,
		Description:      d.Description,
		OriginalCurrency: d.OriginalCurrency,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	var err error
	if row.Amount, err = decimal.NewFromString(d.Amount); err != nil {
		return row, fmt.Errorf("amount: %w", err)
	}
	if row.StartDate, err = civil.ParseDate(d.StartDate); err != nil {
		return row, fmt.Errorf("start_date: %w", err)
	}
	if row.NextOccurrence, err = civil.ParseDate(d.NextOccurrence); err != nil {
		return row, fmt.Errorf("next_occurrence: %w", err)
	}
	if row.EndDate, err = parseOptDate(d.EndDate); err != nil {
		return row, fmt.Errorf("end_date: %w", err)
	}
	if row.LastGenerated, err = parseOptDate(d.LastGenerated); err != nil {
		return row, fmt.Errorf("last_generated: %w", err)
	}
	return row, nil
}

// FetchRecurring implements the remote.Remote interface.
func (r *Remote) FetchRecurring(ctx context.Context, userID string) ([]remote.RecurringRow, error) {
	docs, err := fetch[recurringDoc](ctx, r.recurring, userID)
	if err != nil {
		return nil, fmt.Errorf("FetchRecurring: %w", err)
	}
	out := make([]remote.RecurringRow, 0, len(docs))
	for _, d := range docs {
		row, err := recurringFromDoc(d)
		if err != nil {
			return nil, fmt.Errorf("FetchRecurring: %s: %w", d.ID, err)
		}
		out = append(out, row)
	}
	return out, nil
}

// DeleteRecurring implements the remote.Remote interface.
func (r *Remote) DeleteRecurring(ctx context.Context, userID, id string) error {
	if err := remove(ctx, r.recurring, userID, id); err != nil {
		return fmt.Errorf("DeleteRecurring: %w", err)
	}
	return nil
}

// ---- budgets ----

// UpsertBudget implements the remote.Remote interface.
func (r *Remote) UpsertBudget(ctx context.Context, row remote.BudgetRow) error {
	doc := budgetDoc{
		ID:             row.ID,
		UserID:         row.UserID,
		Category:       row.Category,
		MonthlyLimit:   row.MonthlyLimit.String(),
		AlertThreshold: row.AlertThreshold,
		IsActive:       row.IsActive,
		Currency:       row.Currency,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if err := upsert(ctx, r.budgets, row.ID, doc); err != nil {
		return fmt.Errorf("UpsertBudget: %w", err)
	}
	return nil
}

// FetchBudgets implements the remote.Remote interface.
func (r *Remote) FetchBudgets(ctx context.Context, userID string) ([]remote.BudgetRow, error) {
	docs, err := fetch[budgetDoc](ctx, r.budgets, userID)
	if err != nil {
		return nil, fmt.Errorf("FetchBudgets: %w", err)
	}
	out := make([]remote.BudgetRow, 0, len(docs))
	for _, d := range docs {
		limit, err := decimal.NewFromString(d.MonthlyLimit)
		if err != nil {
			return nil, fmt.Errorf("FetchBudgets: %s: monthly_limit: %w", d.ID, err)
		}
		out = append(out, remote.BudgetRow{
			ID:             d.ID,
			UserID:         d.UserID,
			Category:       d.Category,
			MonthlyLimit:   limit,
			AlertThreshold: d.AlertThreshold,
			IsActive:       d.IsActive,
			Currency:       d.Currency,
			CreatedAt:      d.CreatedAt.UTC(),
			UpdatedAt:      d.UpdatedAt.UTC(),
		})
	}
	return out, nil
}

// DeleteBudget implements the remote.Remote interface.
func (r *Remote) DeleteBudget(ctx context.Context, userID, id string) error {
	if err := remove(ctx, r.budgets, userID, id); err != nil {
		return fmt.Errorf("DeleteBudget: %w", err)
	}
	return nil
}
