// Package snapshot implements the in-memory TTL cache that fronts the bulk
// data endpoints. One Cache instance holds one entry per logical endpoint key;
// a miss triggers the endpoint's refresh function, concurrent misses for the
// same key are coalesced into a single in-flight refresh, and a failed refresh
// falls back to the previous payload when one exists.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrNoFallback reports a refresh failure with no previously cached payload to
// fall back to. Handlers translate it into a 503.
var ErrNoFallback = errors.New("snapshot: refresh failed with no cached fallback")

// Source labels where a served payload came from. The values are emitted
// verbatim in the X-Data-Source response header.
type Source string

const (
	SourceMemoryCache   Source = "memory-cache"
	SourceFresh         Source = "fresh"
	SourceStaleFallback Source = "stale-cache-fallback"
)

// RefreshFunc produces a new payload for a key. It is invoked at most once per
// coalesced wave of concurrent misses.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

// Entry is one cached payload plus the instant it was stored. Entries are
// immutable once stored; Put swaps the whole entry in a single assignment so
// concurrent readers never observe a partially written payload.
type Entry[T any] struct {
	Payload  T
	CachedAt time.Time
	TTL      time.Duration
}

// Result is what GetOrRefresh hands back to the endpoint handler.
type Result[T any] struct {
	Payload  T
	Source   Source
	CachedAt time.Time
}

// Cache is a process-wide TTL cache keyed by endpoint name.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]

	group     singleflight.Group
	now       func() time.Time
	onRefresh RefreshHook
}

// New builds an empty cache. Entries appear lazily on first refresh and live
// until process exit; TTL expiry makes them stale, never absent.
func New[T any](opts ...Option) *Cache[T] {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Cache[T]{
		entries:   make(map[string]Entry[T]),
		now:       cfg.now,
		onRefresh: cfg.onRefresh,
	}
}

// Peek returns the current entry for key without touching freshness logic.
func (c *Cache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Fresh reports whether the entry is still inside its TTL window at now.
func (e Entry[T]) Fresh(now time.Time) bool {
	return now.Sub(e.CachedAt) < e.TTL
}

// Put stores payload under key, stamped with the instant the producing refresh
// started. If the entry already advanced past startedAt (a concurrent, faster
// refresh won the race) the result is discarded so older data never clobbers
// newer data. Returns whether the entry was applied.
func (c *Cache[T]) Put(key string, payload T, ttl time.Duration, startedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.entries[key]; ok && current.CachedAt.After(startedAt) {
		return false
	}
	c.entries[key] = Entry[T]{Payload: payload, CachedAt: startedAt, TTL: ttl}
	return true
}

// Invalidate drops the entry for key, forcing the next request to refresh.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// GetOrRefresh drives the endpoint state machine:
//
//	fresh entry            -> serve it (memory-cache)
//	miss or expired        -> run refresh, store, serve (fresh)
//	refresh fails, entry   -> serve the old payload (stale-cache-fallback)
//	refresh fails, nothing -> ErrNoFallback wrapping the refresh error
//
// Concurrent callers that miss on the same key share one refresh. The refresh
// itself runs detached from the caller's cancellation: a client disconnect
// must not abort work other waiters depend on.
func (c *Cache[T]) GetOrRefresh(ctx context.Context, key string, ttl time.Duration, refresh RefreshFunc[T]) (Result[T], error) {
	if entry, ok := c.Peek(key); ok && entry.Fresh(c.now()) {
		return Result[T]{Payload: entry.Payload, Source: SourceMemoryCache, CachedAt: entry.CachedAt}, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Callers queued behind a completed flight start a new one; re-check
		// so the second wave after an expiry boundary serves the entry the
		// first wave just stored.
		if entry, ok := c.Peek(key); ok && entry.Fresh(c.now()) {
			return Result[T]{Payload: entry.Payload, Source: SourceMemoryCache, CachedAt: entry.CachedAt}, nil
		}

		startedAt := c.now()
		payload, err := refresh(context.WithoutCancel(ctx))
		if hook := c.onRefresh; hook != nil {
			hook(key, uuid.NewString(), c.now().Sub(startedAt), err)
		}
		if err != nil {
			return nil, err
		}
		c.Put(key, payload, ttl, startedAt)
		return Result[T]{Payload: payload, Source: SourceFresh, CachedAt: startedAt}, nil
	})
	if err == nil {
		return v.(Result[T]), nil
	}

	if entry, ok := c.Peek(key); ok {
		return Result[T]{Payload: entry.Payload, Source: SourceStaleFallback, CachedAt: entry.CachedAt}, nil
	}
	return Result[T]{}, fmt.Errorf("%w: %w", ErrNoFallback, err)
}
