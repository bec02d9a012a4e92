package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// breaker retries transient failures with exponential backoff and stops
// calling the backend once threshold consecutive transient failures have
// been seen, until cooldown has passed since the last one.
type breaker struct {
	maxRetries int
	backoff    time.Duration
	threshold  int
	cooldown   time.Duration
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error

	mu       sync.Mutex
	failures int
	lastFail time.Time
}

func newBreaker(maxRetries int, backoff time.Duration, threshold int) *breaker {
	return &breaker{
		maxRetries: maxRetries,
		backoff:    backoff,
		threshold:  threshold,
		cooldown:   30 * time.Second,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func (b *breaker) do(ctx context.Context, op string, fn func() error) error {
	backoff := b.backoff
	for attempt := 0; ; attempt++ {
		if b.open() {
			return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
		}
		err := fn()
		if err == nil {
			b.reset()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		b.fail()
		recordRetry(op)
		if attempt >= b.maxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, b.maxRetries, err)
		}
		if err := b.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("%s canceled: %w", op, err)
		}
		backoff *= 2
	}
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if b.now().Sub(b.lastFail) > b.cooldown {
		b.failures = 0
		return false
	}
	return true
}

func (b *breaker) fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFail = b.now()
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
