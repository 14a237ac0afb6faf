package domain

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
)

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name  string
		start string
		freq  Frequency
		last  string
		want  string
	}{
		{"daily", "2024-01-01", FrequencyDaily, "", "2024-01-02"},
		{"weekly", "2024-01-01", FrequencyWeekly, "", "2024-01-08"},
		{"biweekly", "2024-01-01", FrequencyBiweekly, "", "2024-01-15"},
		{"monthly clamps to leap february", "2024-01-31", FrequencyMonthly, "", "2024-02-29"},
		{"monthly clamps to february", "2023-01-31", FrequencyMonthly, "", "2023-02-28"},
		{"monthly returns to anchor day", "2024-01-31", FrequencyMonthly, "2024-02-29", "2024-03-31"},
		{"monthly across year end", "2024-12-15", FrequencyMonthly, "", "2025-01-15"},
		{"quarterly clamps", "2024-11-30", FrequencyQuarterly, "", "2025-02-28"},
		{"yearly from leap day", "2024-02-29", FrequencyYearly, "", "2025-02-28"},
		{"yearly back to leap day", "2024-02-29", FrequencyYearly, "2027-02-28", "2028-02-29"},
		{"weekly from last generated", "2024-01-01", FrequencyWeekly, "2024-01-29", "2024-02-05"},
		{"last before start uses start", "2024-03-01", FrequencyMonthly, "2024-01-01", "2024-04-01"},

		// A last generated date off the grid snaps forward to the next grid
		// date, never to last plus one period.
		{"monthly off grid mid month", "2024-01-15", FrequencyMonthly, "2024-02-20", "2024-03-15"},
		{"monthly off grid before anchor day", "2024-01-31", FrequencyMonthly, "2024-03-15", "2024-03-31"},
		{"monthly off grid day before clamped date", "2024-01-31", FrequencyMonthly, "2024-02-28", "2024-02-29"},
		{"monthly from clamped april", "2024-01-31", FrequencyMonthly, "2024-04-30", "2024-05-31"},
		{"quarterly off grid", "2024-01-10", FrequencyQuarterly, "2024-02-01", "2024-04-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var last *civil.Date
			if tt.last != "" {
				d := date(t, tt.last)
				last = &d
			}
			got, err := NextOccurrence(date(t, tt.start), tt.freq, last)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}

	t.Run("unknown frequency", func(t *testing.T) {
		_, err := NextOccurrence(date(t, "2024-01-01"), "hourly", nil)
		require.ErrorIs(t, err, ErrInvalidFrequency)
	})
}

func TestRecurringTemplate_ExpectedNext(t *testing.T) {
	at := func(s string) *civil.Date {
		d := date(t, s)
		return &d
	}
	tests := []struct {
		name string
		last *civil.Date
		want string
	}{
		{"nothing generated", nil, "2024-01-31"},
		{"start generated", at("2024-01-31"), "2024-02-29"},
		{"resumes after last generated", at("2024-03-31"), "2024-04-30"},
		{"last before start", at("2023-12-31"), "2024-01-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := RecurringTemplate{Frequency: FrequencyMonthly, StartDate: date(t, "2024-01-31"), LastGenerated: tt.last}
			got, err := r.ExpectedNext()
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}

	_, err := RecurringTemplate{Frequency: "hourly", StartDate: date(t, "2024-01-31")}.ExpectedNext()
	require.ErrorIs(t, err, ErrInvalidFrequency)
}
