package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Occurrences are anchored to the start date: the k-th occurrence is start
// plus k periods, with month-based periods clamped to the last day of the
// month. A template starting on the 31st stays on the last day of short
// months and returns to the 31st when the month allows it.

func (f Frequency) period() (days, months int, err error) {
	switch f {
	case FrequencyDaily:
		return 1, 0, nil
	case FrequencyWeekly:
		return 7, 0, nil
	case FrequencyBiweekly:
		return 14, 0, nil
	case FrequencyMonthly:
		return 0, 1, nil
	case FrequencyQuarterly:
		return 0, 3, nil
	case FrequencyYearly:
		return 0, 12, nil
	}
	return 0, 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, f)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonths adds n calendar months, clamping the day to the target month.
func addMonths(d civil.Date, n int) civil.Date {
	total := int(d.Month) - 1 + n
	year := d.Year + total/12
	idx := total % 12
	if idx < 0 {
		idx += 12
		year--
	}
	month := time.Month(idx + 1)
	day := d.Day
	if last := daysIn(year, month); day > last {
		day = last
	}
	return civil.Date{Year: year, Month: month, Day: day}
}

func occurrence(start civil.Date, days, months, k int) civil.Date {
	if months > 0 {
		return addMonths(start, k*months)
	}
	return start.AddDays(k * days)
}

// OccurrenceAfter returns the first occurrence of the start-anchored schedule
// strictly later than d, or start when d is before it. d need not be an
// occurrence itself.
func OccurrenceAfter(start civil.Date, f Frequency, d civil.Date) (civil.Date, error) {
	days, months, err := f.period()
	if err != nil {
		return civil.Date{}, err
	}
	if d.Before(start) {
		return start, nil
	}
	var k int
	if months > 0 {
		elapsed := (d.Year-start.Year)*12 + int(d.Month) - int(start.Month)
		k = elapsed / months
	} else {
		k = d.DaysSince(start) / days
	}
	for !occurrence(start, days, months, k).After(d) {
		k++
	}
	return occurrence(start, days, months, k), nil
}

// NextOccurrence advances the later of lastGenerated and start by one
// period of f.
func NextOccurrence(start civil.Date, f Frequency, lastGenerated *civil.Date) (civil.Date, error) {
	base := start
	if lastGenerated != nil && lastGenerated.After(start) {
		base = *lastGenerated
	}
	return OccurrenceAfter(start, f, base)
}

// ExpectedNext returns the date r should produce next: its start date when
// nothing on its schedule was generated yet, otherwise the occurrence after
// LastGenerated.
func (r RecurringTemplate) ExpectedNext() (civil.Date, error) {
	if r.LastGenerated == nil || r.LastGenerated.Before(r.StartDate) {
		if _, _, err := r.Frequency.period(); err != nil {
			return civil.Date{}, err
		}
		return r.StartDate, nil
	}
	return NextOccurrence(r.StartDate, r.Frequency, r.LastGenerated)
}
