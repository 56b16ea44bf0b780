package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func TestComputeNextDate(t *testing.T) {
	tests := []struct {
		name      string
		frequency Frequency
		interval  int
		from      time.Time
		want      time.Time
	}{
		{"daily", FrequencyDaily, 3, date(2026, 2, 27), date(2026, 3, 2)},
		{"weekly", FrequencyWeekly, 2, date(2026, 1, 1), date(2026, 1, 15)},
		{"monthly clamps to february", FrequencyMonthly, 1, date(2026, 1, 31), date(2026, 2, 28)},
		{"monthly clamps to leap day", FrequencyMonthly, 1, date(2028, 1, 31), date(2028, 2, 29)},
		{"monthly across year", FrequencyMonthly, 2, date(2026, 11, 30), date(2027, 1, 30)},
		{"monthly to thirty day month", FrequencyMonthly, 1, date(2026, 3, 31), date(2026, 4, 30)},
		{"quarterly by interval", FrequencyMonthly, 3, date(2026, 11, 15), date(2027, 2, 15)},
		{"yearly leap day", FrequencyYearly, 1, date(2028, 2, 29), date(2029, 2, 28)},
		{"yearly", FrequencyYearly, 2, date(2026, 6, 1), date(2028, 6, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextDate(tt.frequency, tt.interval, tt.from)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestComputeNextDateRejectsBadInput(t *testing.T) {
	_, err := ComputeNextDate(FrequencyMonthly, 0, date(2026, 1, 1))
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = ComputeNextDate(Frequency("fortnightly"), 1, date(2026, 1, 1))
	require.ErrorIs(t, err, ErrInvalidFrequency)
}

func TestComputeNextDateAnchoredReturnsToAnchor(t *testing.T) {
	next := date(2026, 1, 31)
	var got []int
	for range 3 {
		var err error
		next, err = ComputeNextDateAnchored(FrequencyMonthly, 1, next, 31)
		require.NoError(t, err)
		got = append(got, next.Day())
	}
	assert.Equal(t, []int{28, 31, 30}, got)

	drift, err := ComputeNextDate(FrequencyMonthly, 1, date(2026, 2, 28))
	require.NoError(t, err)
	assert.Equal(t, 28, drift.Day())
}

func TestPastEndUsesDayGranularity(t *testing.T) {
	end := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, PastEnd(time.Date(2026, 5, 1, 23, 0, 0, 0, time.UTC), &end))
	assert.True(t, PastEnd(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), &end))
	assert.False(t, PastEnd(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC), nil))
}
