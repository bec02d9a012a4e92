package sources

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBackoff applies after a 429 without a Retry-After hint.
const DefaultBackoff = 60 * time.Second

// RateLimiter is a token bucket shared by all source reads, with a
// backoff window that opens after the provider reports a rate limit.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	retryAt time.Time
}

// NewRateLimiter allows rps sustained requests with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst), now: time.Now}
}

// Wait blocks until the backoff window has passed and a token is free.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if d := retryAt.Sub(r.now()); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return r.limiter.Wait(ctx)
}

// Backoff opens a window of d, or DefaultBackoff when d is not positive.
// A shorter window never replaces a longer one.
func (r *RateLimiter) Backoff(d time.Duration) {
	if r == nil {
		return
	}
	if d <= 0 {
		d = DefaultBackoff
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := r.now().Add(d); until.After(r.retryAt) {
		r.retryAt = until
	}
}

// RetryAt reports when the current backoff window closes.
func (r *RateLimiter) RetryAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryAt
}
