package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies how a transaction moves the balance.
type TransactionType string

const (
	TypeIncome     TransactionType = "income"
	TypeExpense    TransactionType = "expense"
	TypeSavings    TransactionType = "savings"
	TypeWithdrawal TransactionType = "withdrawal"
)

// TransactionTypes lists every valid transaction type.
var TransactionTypes = []TransactionType{TypeIncome, TypeExpense, TypeSavings, TypeWithdrawal}

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Transaction is one dated money movement. Amount is always non-negative;
// the effect on the balance is derived from Type.
type Transaction struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Date        civil.Date      `json:"date"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description,omitempty"`
	Currency    string          `json:"originalCurrency,omitempty"`

	// IsRecurring marks instances materialized from a RecurringTemplate.
	IsRecurring bool   `json:"isRecurring,omitempty"`
	RecurringID string `json:"recurringId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BalanceDelta returns the signed change this transaction applies to the
// spendable balance. Income and withdrawals from savings add, expenses and
// transfers into savings subtract.
func (t Transaction) BalanceDelta() decimal.Decimal {
	switch t.Type {
	case TypeIncome, TypeWithdrawal:
		return t.Amount
	case TypeExpense, TypeSavings:
		return t.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// Validate checks the structural invariants of a transaction.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("transaction %q: %w: title", t.ID, ErrMissingField)
	}
	if strings.TrimSpace(t.Category) == "" {
		return fmt.Errorf("transaction %q: %w: category", t.ID, ErrMissingField)
	}
	if !t.Date.IsValid() {
		return fmt.Errorf("transaction %q: %w: date", t.ID, ErrMissingField)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("transaction %q: %w", t.ID, ErrInvalidAmount)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("transaction %q: %w: %q", t.ID, ErrInvalidType, t.Type)
	}
	return nil
}

// TransactionPatch is a partial update. Nil fields are left untouched.
type TransactionPatch struct {
	Title       *string          `json:"title,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Date        *civil.Date      `json:"date,omitempty"`
	Type        *TransactionType `json:"type,omitempty"`
	Description *string          `json:"description,omitempty"`
	Currency    *string          `json:"originalCurrency,omitempty"`
	IsRecurring *bool            `json:"isRecurring,omitempty"`
	RecurringID *string          `json:"recurringId,omitempty"`

	// UpdatedAt overrides the modification stamp; used when a newer remote
	// copy replaces the local one.
	UpdatedAt *time.Time `json:"-"`
}

// Apply returns t with the patch applied and UpdatedAt advanced to now.
func (p TransactionPatch) Apply(t Transaction, now time.Time) Transaction {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Currency != nil {
		t.Currency = *p.Currency
	}
	if p.IsRecurring != nil {
		t.IsRecurring = *p.IsRecurring
	}
	if p.RecurringID != nil {
		t.RecurringID = *p.RecurringID
	}
	t.UpdatedAt = now.UTC()
	if p.UpdatedAt != nil {
		t.UpdatedAt = p.UpdatedAt.UTC()
	}
	return t
}

// FullTransactionPatch builds a patch that overwrites every mutable field of
// the target with the values of t.
func FullTransactionPatch(t Transaction) TransactionPatch {
	return TransactionPatch{
		Title:       &t.Title,
		Amount:      &t.Amount,
		Category:    &t.Category,
		Date:        &t.Date,
		Type:        &t.Type,
		Description: &t.Description,
		Currency:    &t.Currency,
		IsRecurring: &t.IsRecurring,
		RecurringID: &t.RecurringID,
		UpdatedAt:   &t.UpdatedAt,
	}
}

// NewID returns a fresh opaque record id.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current UTC time truncated to milliseconds, the precision
// every backend round-trips without loss.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
