package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToMinorRoundsHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"10.005", 1001},
		{"10.004", 1000},
		{"0.125", 13},
		{"99.999", 10000},
		{"0", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ToMinor(decimal.RequireFromString(tc.in)), tc.in)
	}
}

func TestFromMinor(t *testing.T) {
	assert.True(t, FromMinor(12345).Equal(decimal.RequireFromString("123.45")))
}

func TestPercent(t *testing.T) {
	got := Percent(decimal.NewFromInt(1000), decimal.NewFromInt(18))
	assert.True(t, got.Equal(decimal.NewFromInt(180)))
	assert.True(t, PercentInRange(decimal.NewFromInt(100)))
	assert.False(t, PercentInRange(decimal.NewFromInt(101)))
	assert.False(t, PercentInRange(decimal.NewFromInt(-1)))
}
