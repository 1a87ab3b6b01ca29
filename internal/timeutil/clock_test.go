package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("RealClock.Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	c.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", got, want)
	}

	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since(start) = %v, want %v", got, 90*time.Second)
	}
}
