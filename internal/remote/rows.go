package remote

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
)

// TransactionRow is a transactions row in the remote store.
type TransactionRow struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Title            string          `json:"title"`
	Amount           decimal.Decimal `json:"amount"`
	Category         string          `json:"category"`
	Type             string          `json:"type"`
	Date             civil.Date      `json:"date"`
	Description      string          `json:"description"`
	IsRecurring      bool            `json:"is_recurring"`
	RecurringID      string          `json:"recurring_id"`
	OriginalCurrency string          `json:"original_currency"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RecurringRow is a recurring_transactions row in the remote store.
type RecurringRow struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Title            string          `json:"title"`
	Amount           decimal.Decimal `json:"amount"`
	Category         string          `json:"category"`
	Type             string          `json:"type"`
	Frequency        string          `json:"frequency"`
	StartDate        civil.Date      `json:"start_date"`
	EndDate          *civil.Date     `json:"end_date"`
	LastGenerated    *civil.Date     `json:"last_generated"`
	NextOccurrence   civil.Date      `json:"next_occurrence"`
	IsActive         bool            `json:"is_active"`
	Description      string          `json:"description"`
	OriginalCurrency string          `json:"original_currency"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// BudgetRow is a budgets row in the remote store.
type BudgetRow struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Category       string          `json:"category"`
	MonthlyLimit   decimal.Decimal `json:"monthly_limit"`
	AlertThreshold int             `json:"alert_threshold"`
	IsActive       bool            `json:"is_active"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ---- transactions ----

// TransactionToRow maps a local transaction to its remote row, stamped with
// updatedAt.
func TransactionToRow(t domain.Transaction, userID string, updatedAt time.Time) TransactionRow {
	return TransactionRow{
		ID:               t.ID,
		UserID:           userID,
		Title:            t.Title,
		Amount:           t.Amount,
		Category:         t.Category,
		Type:             string(t.Type),
		Date:             t.Date,
		Description:      t.Description,
		IsRecurring:      t.IsRecurring,
		RecurringID:      t.RecurringID,
		OriginalCurrency: t.Currency,
		CreatedAt:        t.CreatedAt.UTC(),
		UpdatedAt:        updatedAt.UTC(),
	}
}

// RowToTransaction maps a remote row back to the domain model.
func RowToTransaction(r TransactionRow) domain.Transaction {
	return domain.Transaction{
		ID:          r.ID,
		Title:       r.Title,
		Amount:      r.Amount,
		Category:    r.Category,
		Date:        r.Date,
		Type:        domain.TransactionType(r.Type),
		Description: r.Description,
		Currency:    r.OriginalCurrency,
		IsRecurring: r.IsRecurring,
		RecurringID: r.RecurringID,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

// SameTransaction compares content, ignoring timestamps.
func SameTransaction(a, b domain.Transaction) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Amount.Equal(b.Amount) &&
		a.Category == b.Category &&
		a.Date == b.Date &&
		a.Type == b.Type &&
		a.Description == b.Description &&
		a.Currency == b.Currency &&
		a.IsRecurring == b.IsRecurring &&
		a.RecurringID == b.RecurringID
}

// ---- recurring templates ----

func RecurringToRow(r domain.RecurringTemplate, userID string, updatedAt time.Time) RecurringRow {
	return RecurringRow{
		ID:               r.ID,
		UserID:           userID,
		Title:            r.Title,
		Amount:           r.Amount,
		Category:         r.Category,
		Type:             string(r.Type),
		Frequency:        string(r.Frequency),
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		LastGenerated:    r.LastGenerated,
		NextOccurrence:   r.NextOccurrence,
		IsActive:         r.IsActive,
		Description:      r.Description,
		OriginalCurrency: r.Currency,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        updatedAt.UTC(),
	}
}

func RowToRecurring(r RecurringRow) domain.RecurringTemplate {
	return domain.RecurringTemplate{
		ID:             r.ID,
		Title:          r.Title,
		Amount:         r.Amount,
		Category:       r.Category,
		Type:           domain.TransactionType(r.Type),
		Frequency:      domain.Frequency(r.Frequency),
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		LastGenerated:  r.LastGenerated,
		NextOccurrence: r.NextOccurrence,
		IsActive:       r.IsActive,
		Description:    r.Description,
		Currency:       r.OriginalCurrency,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func sameDate(a, b *civil.Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func SameRecurring(a, b domain.RecurringTemplate) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Amount.Equal(b.Amount) &&
		a.Category == b.Category &&
		a.Type == b.Type &&
		a.Frequency == b.Frequency &&
		a.StartDate == b.StartDate &&
		sameDate(a.EndDate, b.EndDate) &&
		sameDate(a.LastGenerated, b.LastGenerated) &&
		a.NextOccurrence == b.NextOccurrence &&
		a.IsActive == b.IsActive &&
		a.Description == b.Description &&
		a.Currency == b.Currency
}

// ---- budgets ----

func BudgetToRow(b domain.Budget, userID string, updatedAt time.Time) BudgetRow {
	return BudgetRow{
		ID:             b.ID,
		UserID:         userID,
		Category:       b.Category,
		MonthlyLimit:   b.MonthlyLimit,
		AlertThreshold: b.AlertThreshold,
		IsActive:       b.IsActive,
		Currency:       b.Currency,
		CreatedAt:      b.CreatedAt.UTC(),
		UpdatedAt:      updatedAt.UTC(),
	}
}

func RowToBudget(r BudgetRow) domain.Budget {
	return domain.Budget{
		ID:             r.ID,
		Category:       r.Category,
		MonthlyLimit:   r.MonthlyLimit,
		AlertThreshold: r.AlertThreshold,
		IsActive:       r.IsActive,
		Currency:       r.Currency,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func SameBudget(a, b domain.Budget) bool {
	return a.ID == b.ID &&
		a.Category == b.Category &&
		a.MonthlyLimit.Equal(b.MonthlyLimit) &&
		a.AlertThreshold == b.AlertThreshold &&
		a.IsActive == b.IsActive &&
		a.Currency == b.Currency
}
