package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClockAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 1, 31, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	c := NewFakeClock(start)

	assert.Equal(t, time.UTC, c.Now().Location())
	assert.True(t, c.Now().Equal(start))

	c.Advance(36 * time.Hour)
	assert.True(t, c.Now().Equal(start.Add(36*time.Hour)))

	target := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	c.Set(target)
	assert.Equal(t, target, c.Now())
}
