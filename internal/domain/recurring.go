package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Frequency is the repeat interval of a RecurringTemplate.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Frequencies lists every valid frequency.
var Frequencies = []Frequency{
	FrequencyDaily, FrequencyWeekly, FrequencyBiweekly,
	FrequencyMonthly, FrequencyQuarterly, FrequencyYearly,
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	for _, known := range Frequencies {
		if f == known {
			return true
		}
	}
	return false
}

// RecurringTemplate describes a transaction that repeats on a schedule.
// NextOccurrence is always derived from StartDate, Frequency and
// LastGenerated; see package recurring.
type RecurringTemplate struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Amount         decimal.Decimal `json:"amount"`
	Category       string          `json:"category"`
	Type           TransactionType `json:"type"`
	Frequency      Frequency       `json:"frequency"`
	StartDate      civil.Date      `json:"startDate"`
	EndDate        *civil.Date     `json:"endDate,omitempty"`
	LastGenerated  *civil.Date     `json:"lastGenerated,omitempty"`
	NextOccurrence civil.Date      `json:"nextOccurrence"`
	IsActive       bool            `json:"isActive"`
	Description    string          `json:"description,omitempty"`
	Currency       string          `json:"originalCurrency,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (r RecurringTemplate) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("recurring %q: %w: title", r.ID, ErrMissingField)
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("recurring %q: %w: category", r.ID, ErrMissingField)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("recurring %q: %w", r.ID, ErrInvalidAmount)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("recurring %q: %w: %q", r.ID, ErrInvalidType, r.Type)
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("recurring %q: %w: %q", r.ID, ErrInvalidFrequency, r.Frequency)
	}
	if !r.StartDate.IsValid() {
		return fmt.Errorf("recurring %q: %w: startDate", r.ID, ErrMissingField)
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("recurring %q: %w", r.ID, ErrInvalidDateRange)
	}
	return nil
}

// RecurringPatch is a partial update of a template. ClearEndDate removes an
// end date, which a nil EndDate cannot express.
type RecurringPatch struct {
	Title          *string          `json:"title,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Category       *string          `json:"category,omitempty"`
	Type           *TransactionType `json:"type,omitempty"`
	Frequency      *Frequency       `json:"frequency,omitempty"`
	StartDate      *civil.Date      `json:"startDate,omitempty"`
	EndDate        *civil.Date      `json:"endDate,omitempty"`
	ClearEndDate   bool             `json:"clearEndDate,omitempty"`
	LastGenerated  *civil.Date      `json:"lastGenerated,omitempty"`
	NextOccurrence *civil.Date      `json:"nextOccurrence,omitempty"`
	IsActive       *bool            `json:"isActive,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Currency       *string          `json:"originalCurrency,omitempty"`
	UpdatedAt      *time.Time       `json:"-"`
}

func (p RecurringPatch) Apply(r RecurringTemplate, now time.Time) RecurringTemplate {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Amount != nil {
		r.Amount = *p.Amount
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.Frequency != nil {
		r.Frequency = *p.Frequency
	}
	if p.StartDate != nil {
		r.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		end := *p.EndDate
		r.EndDate = &end
	}
	if p.ClearEndDate {
		r.EndDate = nil
	}
	if p.LastGenerated != nil {
		last := *p.LastGenerated
		r.LastGenerated = &last
	}
	if p.NextOccurrence != nil {
		r.NextOccurrence = *p.NextOccurrence
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Currency != nil {
		r.Currency = *p.Currency
	}
	r.UpdatedAt = now.UTC()
	if p.UpdatedAt != nil {
		r.UpdatedAt = p.UpdatedAt.UTC()
	}
	return r
}

// FullRecurringPatch overwrites every mutable field with the values of r.
func FullRecurringPatch(r RecurringTemplate) RecurringPatch {
	p := RecurringPatch{
		Title:          &r.Title,
		Amount:         &r.Amount,
		Category:       &r.Category,
		Type:           &r.Type,
		Frequency:      &r.Frequency,
		StartDate:      &r.StartDate,
		EndDate:        r.EndDate,
		ClearEndDate:   r.EndDate == nil,
		LastGenerated:  r.LastGenerated,
		NextOccurrence: &r.NextOccurrence,
		IsActive:       &r.IsActive,
		Description:    &r.Description,
		Currency:       &r.Currency,
		UpdatedAt:      &r.UpdatedAt,
	}
	return p
}
