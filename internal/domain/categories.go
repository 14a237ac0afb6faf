package domain

import (
	"fmt"
	"sort"
	"strings"
)

// KnownCategories is the built-in category set offered per transaction type.
// Stored categories remain free-form; the set only drives validation hints
// and normalisation of imported data.
var KnownCategories = map[TransactionType][]string{
	TypeExpense: {
		"Food", "Transport", "Housing", "Utilities", "Health", "Entertainment",
		"Shopping", "Education", "Travel", "Insurance", "Other",
	},
	TypeIncome: {
		"Salary", "Freelance", "Investment", "Gift", "Other",
	},
	TypeSavings: {
		"Emergency Fund", "Retirement", "Goal", "Other",
	},
	TypeWithdrawal: {
		"Emergency Fund", "Retirement", "Goal", "Other",
	},
}

// CategoryValidator checks categories against a taxonomy keyed by type.
type CategoryValidator struct {
	byType map[TransactionType]map[string]string // normalized -> canonical spelling
}

// NewCategoryValidator builds a validator from a taxonomy. A nil taxonomy
// means KnownCategories.
func NewCategoryValidator(taxonomy map[TransactionType][]string) *CategoryValidator {
	if taxonomy == nil {
		taxonomy = KnownCategories
	}
	v := &CategoryValidator{byType: make(map[TransactionType]map[string]string)}
	for typ, names := range taxonomy {
		set := make(map[string]string, len(names))
		for _, name := range names {
			set[NormalizeCategory(name)] = name
		}
		v.byType[typ] = set
	}
	return v
}

// Canonical returns the taxonomy spelling of category for typ and whether
// the category is known. Unknown categories are returned trimmed.
func (v *CategoryValidator) Canonical(typ TransactionType, category string) (string, bool) {
	if name, ok := v.byType[typ][NormalizeCategory(category)]; ok {
		return name, true
	}
	return strings.TrimSpace(category), false
}

// ValidateCategory returns an error when category is not part of the
// taxonomy for typ.
func (v *CategoryValidator) ValidateCategory(typ TransactionType, category string) error {
	set, ok := v.byType[typ]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if _, ok := set[NormalizeCategory(category)]; ok {
		return nil
	}
	valid := make([]string, 0, len(set))
	for _, name := range set {
		valid = append(valid, name)
	}
	sort.Strings(valid)
	return fmt.Errorf("unknown %s category %q. Valid categories: %v", typ, category, valid)
}

// NormalizeCategory folds case and surrounding whitespace for comparison.
func NormalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
