package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// lockset hands out one exclusive lock per tenant. Entries are dropped
// once nobody holds or waits for them.
type lockset struct {
	mu    sync.Mutex
	locks map[string]*tenantLock
}

type tenantLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newLockset() *lockset {
	return &lockset{locks: map[string]*tenantLock{}}
}

// acquire blocks until the tenant's lock is free or ctx ends.
func (l *lockset) acquire(ctx context.Context, tenantID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[tenantID]
	if !ok {
		tl = &tenantLock{sem: semaphore.NewWeighted(1)}
		l.locks[tenantID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	if err := tl.sem.Acquire(ctx, 1); err != nil {
		l.release(tenantID, tl)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			tl.sem.Release(1)
			l.release(tenantID, tl)
		})
	}, nil
}

func (l *lockset) release(tenantID string, tl *tenantLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, tenantID)
	}
}

func (l *lockset) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
