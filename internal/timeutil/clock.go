// Package timeutil provides a testable abstraction over wall-clock time.
//
// The batch pipeline itself operates on GPS times carried in the data; the
// Clock interface only covers run bookkeeping (when an analysis run started
// and how long stages took) so that persistence tests are reproducible.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides the wall-clock operations used for run bookkeeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a manually controlled clock for testing.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration between the mocked current time and t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the mock clock forward by the given duration.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Verify at compile time that both clocks implement Clock.
var (
	_ Clock = RealClock{}
	_ Clock = (*MockClock)(nil)
)
