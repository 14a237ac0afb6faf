package domain

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// Both storage backends return lists in these orders so that their results
// are directly comparable.

// SortTransactions orders newest date first, ties broken by id.
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Date != txs[j].Date {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].ID < txs[j].ID
	})
}

// SortBudgets orders by category, then id.
func SortBudgets(budgets []Budget) {
	sort.SliceStable(budgets, func(i, j int) bool {
		if budgets[i].Category != budgets[j].Category {
			return budgets[i].Category < budgets[j].Category
		}
		return budgets[i].ID < budgets[j].ID
	})
}

// SortRecurring orders by next occurrence, then id.
func SortRecurring(templates []RecurringTemplate) {
	sort.SliceStable(templates, func(i, j int) bool {
		if templates[i].NextOccurrence != templates[j].NextOccurrence {
			return templates[i].NextOccurrence.Before(templates[j].NextOccurrence)
		}
		return templates[i].ID < templates[j].ID
	})
}

// InRange reports whether d lies within [from, to], both bounds inclusive.
func InRange(d, from, to civil.Date) bool {
	return !d.Before(from) && !d.After(to)
}

// MonthRange returns the first and last day of the given month.
func MonthRange(month int, year int) (civil.Date, civil.Date) {
	first := civil.Date{Year: year, Month: time.Month(month), Day: 1}
	last := civil.DateOf(time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC))
	return first, last
}
