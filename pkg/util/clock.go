package util

import (
	"context"
	"time"
)

// Clock abstracts time so stale fragment eviction, call deadlines and job
// polling can be driven deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After waits for the duration to elapse and then sends the current time
	After(d time.Duration) <-chan time.Time
}

// RealClock implements the Clock interface using the real time package.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks for d on clock or until ctx is done.
func Sleep(ctx context.Context, clock Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
