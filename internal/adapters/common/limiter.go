package common

import (
	"context"

	"golang.org/x/time/rate"
)

// NewLimiter returns a client-side token bucket, or nil when rps is not
// positive (unlimited).
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until the limiter admits one request or ctx is done. A nil
// limiter never blocks.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
