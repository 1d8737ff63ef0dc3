package ratelimit

import (
	"context"
	"time"
)

// Clock abstracts time measurement and sleeping so that rate limiting and
// retry backoff can be tested without real elapsed time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for the given duration or until the context is cancelled,
	// in which case it returns the context error.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the Clock implementation backed by the time package.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for d or until ctx is done.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
