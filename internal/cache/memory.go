package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	payload  []byte
	storedAt time.Time
	class    TTLClass
}

// MemoryCache is a process-local Cache. Entries expire strictly after
// their TTL; there is no other eviction.
type MemoryCache struct {
	ttls TTLs
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache(ttls TTLs) *MemoryCache {
	return &MemoryCache{ttls: ttls, now: time.Now, entries: map[string]memoryEntry{}}
}

// WithClock replaces the time source. Used by tests.
func (m *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	m.now = now
	return m
}

func (m *MemoryCache) Get(_ context.Context, key Key) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key.String()]
	m.mu.RUnlock()
	if !ok || m.now().Sub(e.storedAt) >= m.ttls.For(e.class) {
		return nil, false
	}
	return e.payload, true
}

func (m *MemoryCache) Set(_ context.Context, key Key, payload []byte, class TTLClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = memoryEntry{payload: append([]byte(nil), payload...), storedAt: m.now(), class: class}
	return nil
}

func (m *MemoryCache) Invalidate(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
	return nil
}

func (m *MemoryCache) InvalidateTenant(_ context.Context, tenantID string) error {
	prefix := tenantID + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryCache) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]memoryEntry{}
	return nil
}

func (m *MemoryCache) Close() error { return nil }
