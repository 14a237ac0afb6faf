// Package recurring computes occurrence dates for recurring templates and
// materializes the due ones as transactions.
package recurring

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
)

// MaxPending bounds PendingOccurrences so a runaway template cannot flood
// the store.
const MaxPending = 1000

// IsDue reports whether a template with the given next occurrence should
// produce an instance today.
func IsDue(next civil.Date, endDate *civil.Date, isActive bool, today civil.Date) bool {
	if !isActive || next.After(today) {
		return false
	}
	return endDate == nil || !endDate.Before(today)
}

// PendingOccurrences lists, in order, every occurrence not yet generated
// that falls on or before today and on or before endDate. At most
// MaxPending dates are returned. Occurrences follow the start-anchored
// schedule of domain.OccurrenceAfter.
func PendingOccurrences(start civil.Date, f domain.Frequency, lastGenerated, endDate *civil.Date, today civil.Date) ([]civil.Date, error) {
	next := start
	if lastGenerated != nil && !lastGenerated.Before(start) {
		var err error
		if next, err = domain.OccurrenceAfter(start, f, *lastGenerated); err != nil {
			return nil, err
		}
	} else if !f.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidFrequency, f)
	}

	var out []civil.Date
	for len(out) < MaxPending {
		if next.After(today) || (endDate != nil && next.After(*endDate)) {
			break
		}
		out = append(out, next)
		next, _ = domain.OccurrenceAfter(start, f, next)
	}
	return out, nil
}

// Today returns the calendar date of now in now's location.
func Today(now time.Time) civil.Date {
	return civil.DateOf(now)
}
