// Package cache memoizes source fetches per tenant with two TTL classes:
// a short one for structured tabular data and a long one for extracted
// document text.
//
//	recs, err := cache.Fetch(ctx, c, key, cache.Structured, logger, fetchRows)
//
// Only successful fetches are stored. A failed cache write is logged and
// never fails the fetch.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// TTLClass selects the expiry applied to an entry.
type TTLClass int

const (
	// Structured is for volatile rows such as pricing or schedules.
	Structured TTLClass = iota
	// Document is for extracted document content.
	Document
)

func (c TTLClass) String() string {
	if c == Document {
		return "document"
	}
	return "structured"
}

// TTLs maps each class onto a duration.
type TTLs struct {
	Structured time.Duration
	Document   time.Duration
}

// For returns the TTL configured for class.
func (t TTLs) For(class TTLClass) time.Duration {
	if class == Document {
		return t.Document
	}
	return t.Structured
}

// Key addresses one cached payload.
type Key struct {
	Tenant  string
	Source  string // "sheets", "drive", ...
	Locator string // spreadsheet or container id
	Scope   string // optional sub-scope such as a range or file id
}

// String renders k as tenant/source/locator[/scope].
func (k Key) String() string {
	parts := []string{k.Tenant, k.Source, k.Locator}
	if k.Scope != "" {
		parts = append(parts, k.Scope)
	}
	return strings.Join(parts, "/")
}

// Cache stores opaque payloads.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool)
	Set(ctx context.Context, key Key, payload []byte, class TTLClass) error
	Invalidate(ctx context.Context, key Key) error
	// InvalidateTenant drops every entry for one tenant.
	InvalidateTenant(ctx context.Context, tenantID string) error
	InvalidateAll(ctx context.Context) error
	Close() error
}

// Fetch returns the cached value for key, or calls fetch and caches its
// result. A fetch error is returned as-is and nothing is stored. logger
// may be nil.
func Fetch[T any](ctx context.Context, c Cache, key Key, class TTLClass, logger *logging.Logger, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if payload, ok := c.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			recordHit(key.Source)
			return v, nil
		}
		// undecodable entries are treated as a miss and overwritten
		_ = c.Invalidate(ctx, key)
	}
	recordMiss(key.Source)

	v, err := fetch(ctx)
	if err != nil {
		return zero, err
	}
	payload, err := json.Marshal(v)
	if err == nil {
		err = c.Set(ctx, key, payload, class)
	}
	if err != nil {
		recordWriteError(key.Source)
		if logger != nil {
			logger.Warn(ctx, "cache write failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	return v, nil
}

// New builds the backend named by backend ("memory" or "badger").
func New(backend, path string, ttls TTLs, logger *logging.Logger) (Cache, error) {
	switch backend {
	case "", "memory":
		return NewMemoryCache(ttls), nil
	case "badger":
		return NewBadgerCache(path, ttls, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
