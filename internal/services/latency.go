package services

import (
	"context"
	"time"
)

// simulateLatency stands in for a network round trip. It returns early with the
// context error if ctx is done first.
func simulateLatency(ctx context.Context, d time.Duration) error {
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
