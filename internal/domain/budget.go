package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Budget caps monthly spending in one category. At most one active budget
// may exist per category.
type Budget struct {
	ID             string          `json:"id"`
	Category       string          `json:"category"`
	MonthlyLimit   decimal.Decimal `json:"monthlyLimit"`
	AlertThreshold int             `json:"alertThreshold"`
	IsActive       bool            `json:"isActive"`
	Currency       string          `json:"currency,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Category) == "" {
		return fmt.Errorf("budget %q: %w: category", b.ID, ErrMissingField)
	}
	if b.MonthlyLimit.IsNegative() {
		return fmt.Errorf("budget %q: %w", b.ID, ErrInvalidAmount)
	}
	if b.AlertThreshold < 0 || b.AlertThreshold > 100 {
		return fmt.Errorf("budget %q: %w", b.ID, ErrInvalidThreshold)
	}
	return nil
}

// BudgetPatch is a partial update of a budget.
type BudgetPatch struct {
	Category       *string          `json:"category,omitempty"`
	MonthlyLimit   *decimal.Decimal `json:"monthlyLimit,omitempty"`
	AlertThreshold *int             `json:"alertThreshold,omitempty"`
	IsActive       *bool            `json:"isActive,omitempty"`
	Currency       *string          `json:"currency,omitempty"`
	UpdatedAt      *time.Time       `json:"-"`
}

func (p BudgetPatch) Apply(b Budget, now time.Time) Budget {
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.MonthlyLimit != nil {
		b.MonthlyLimit = *p.MonthlyLimit
	}
	if p.AlertThreshold != nil {
		b.AlertThreshold = *p.AlertThreshold
	}
	if p.IsActive != nil {
		b.IsActive = *p.IsActive
	}
	if p.Currency != nil {
		b.Currency = *p.Currency
	}
	b.UpdatedAt = now.UTC()
	if p.UpdatedAt != nil {
		b.UpdatedAt = p.UpdatedAt.UTC()
	}
	return b
}

// FullBudgetPatch overwrites every mutable field with the values of b.
func FullBudgetPatch(b Budget) BudgetPatch {
	return BudgetPatch{
		Category:       &b.Category,
		MonthlyLimit:   &b.MonthlyLimit,
		AlertThreshold: &b.AlertThreshold,
		IsActive:       &b.IsActive,
		Currency:       &b.Currency,
		UpdatedAt:      &b.UpdatedAt,
	}
}

// ConflictingActiveBudget returns the id of an active budget in existing that
// shares b's category, ignoring b itself. Categories compare
// case-insensitively.
func ConflictingActiveBudget(b Budget, existing []Budget) (string, bool) {
	if !b.IsActive {
		return "", false
	}
	want := NormalizeCategory(b.Category)
	for _, other := range existing {
		if other.ID == b.ID || !other.IsActive {
			continue
		}
		if NormalizeCategory(other.Category) == want {
			return other.ID, true
		}
	}
	return "", false
}
