package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockset(t *testing.T) {
	ctx := context.Background()
	l := newLockset()

	unlock, err := l.acquire(ctx, "acme-dental")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = l.acquire(short, "acme-dental")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.acquire(ctx, "beta-clinic")
	require.NoError(t, err, "tenants do not block each other")
	other()

	acquired := make(chan struct{})
	go func() {
		next, err := l.acquire(ctx, "acme-dental")
		if err == nil {
			next()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	assert.Equal(t, 0, l.len())
}
