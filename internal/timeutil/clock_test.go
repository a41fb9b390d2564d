package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClockNow(t *testing.T) {
	t.Parallel()
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestMockClockAdvance(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
	assert.Equal(t, 90*time.Second, c.Since(start))
}

func TestMockClockSleepRecordsAndAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Sleep(250 * time.Millisecond)
	c.Sleep(500 * time.Millisecond)

	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, c.Sleeps())
	assert.Equal(t, start.Add(750*time.Millisecond), c.Now())
}

func TestMockClockAfterNeverBlocks(t *testing.T) {
	t.Parallel()
	c := NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	select {
	case got := <-c.After(time.Hour):
		assert.Equal(t, c.Now(), got)
	default:
		t.Fatal("After channel should already be ready")
	}
}
