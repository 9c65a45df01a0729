package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestGetOrRefreshFreshnessWindow(t *testing.T) {
	clock := newFakeClock()
	cache := New[[]string](WithClock(clock.Now))

	var calls atomic.Int32
	refresh := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"A", "B"}, nil
	}
	const ttl = 30 * time.Second

	// t=0: first call populates.
	result, err := cache.GetOrRefresh(context.Background(), "devices", ttl, refresh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceFresh {
		t.Fatalf("expected fresh, got %s", result.Source)
	}
	if diff := cmp.Diff([]string{"A", "B"}, result.Payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	// t=10s: inside the window, no refresh.
	clock.Advance(10 * time.Second)
	result, err = cache.GetOrRefresh(context.Background(), "devices", ttl, refresh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceMemoryCache {
		t.Fatalf("expected memory-cache, got %s", result.Source)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("refresh ran %d times inside the freshness window", got)
	}

	// t=40s: expired, refresh again.
	clock.Advance(30 * time.Second)
	result, err = cache.GetOrRefresh(context.Background(), "devices", ttl, refresh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Source != SourceFresh {
		t.Fatalf("expected fresh after expiry, got %s", result.Source)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected second refresh after expiry, got %d calls", got)
	}
}

func TestGetOrRefreshStaleFallback(t *testing.T) {
	clock := newFakeClock()
	cache := New[[]string](WithClock(clock.Now))

	populated := clock.Now()
	refresh := func(context.Context) ([]string, error) { return []string{"A", "B"}, nil }
	if _, err := cache.GetOrRefresh(context.Background(), "devices", 30*time.Second, refresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(40 * time.Second)
	failing := func(context.Context) ([]string, error) { return nil, errors.New("upstream down") }
	result, err := cache.GetOrRefresh(context.Background(), "devices", 30*time.Second, failing)
	if err != nil {
		t.Fatalf("stale fallback must not error: %v", err)
	}
	if result.Source != SourceStaleFallback {
		t.Fatalf("expected stale-cache-fallback, got %s", result.Source)
	}
	if diff := cmp.Diff([]string{"A", "B"}, result.Payload); diff != "" {
		t.Fatalf("stale payload mismatch (-want +got):\n%s", diff)
	}
	if !result.CachedAt.Equal(populated) {
		t.Fatalf("stale result should keep original timestamp, got %v", result.CachedAt)
	}
}

func TestGetOrRefreshNoFallbackFails(t *testing.T) {
	cache := New[[]string](WithClock(newFakeClock().Now))

	upstreamErr := errors.New("upstream down")
	failing := func(context.Context) ([]string, error) { return nil, upstreamErr }
	_, err := cache.GetOrRefresh(context.Background(), "devices", time.Minute, failing)
	if !errors.Is(err, ErrNoFallback) {
		t.Fatalf("expected ErrNoFallback, got %v", err)
	}
	if !errors.Is(err, upstreamErr) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
	if _, ok := cache.Peek("devices"); ok {
		t.Fatal("failed refresh must not populate the cache")
	}
}

func TestGetOrRefreshCoalescesConcurrentMisses(t *testing.T) {
	cache := New[[]string](WithClock(newFakeClock().Now))

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	refresh := func(context.Context) ([]string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []string{"A"}, nil
	}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]Result[[]string], waiters)
	for i := 0; i < waiters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := cache.GetOrRefresh(context.Background(), "devices", time.Minute, refresh)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = result
		}()
	}

	<-started
	// Give the remaining goroutines a moment to queue behind the flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one coalesced refresh, got %d", got)
	}
	for i, result := range results {
		if len(result.Payload) != 1 || result.Payload[0] != "A" {
			t.Fatalf("waiter %d got payload %v", i, result.Payload)
		}
	}
}

func TestPutRejectsStaleOverwrite(t *testing.T) {
	clock := newFakeClock()
	cache := New[[]string](WithClock(clock.Now))

	slowStart := clock.Now()
	clock.Advance(time.Second)
	fastStart := clock.Now()

	if !cache.Put("devices", []string{"new"}, time.Minute, fastStart) {
		t.Fatal("first put must apply")
	}
	if cache.Put("devices", []string{"old"}, time.Minute, slowStart) {
		t.Fatal("slower refresh with an earlier start must be discarded")
	}

	entry, ok := cache.Peek("devices")
	if !ok {
		t.Fatal("entry missing")
	}
	if diff := cmp.Diff([]string{"new"}, entry.Payload); diff != "" {
		t.Fatalf("older refresh clobbered newer data (-want +got):\n%s", diff)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	cache := New[[]string](WithClock(newFakeClock().Now))

	var calls atomic.Int32
	refresh := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"A"}, nil
	}
	if _, err := cache.GetOrRefresh(context.Background(), "devices", time.Minute, refresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cache.Invalidate("devices")
	if _, err := cache.GetOrRefresh(context.Background(), "devices", time.Minute, refresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected refresh after invalidate, got %d calls", got)
	}
}

func TestRefreshHookObservesOutcomes(t *testing.T) {
	type observed struct {
		key    string
		failed bool
	}
	var mu sync.Mutex
	var hooks []observed

	cache := New[[]string](
		WithClock(newFakeClock().Now),
		WithRefreshHook(func(key, attemptID string, _ time.Duration, err error) {
			if attemptID == "" {
				t.Error("attempt id must be set")
			}
			mu.Lock()
			hooks = append(hooks, observed{key: key, failed: err != nil})
			mu.Unlock()
		}),
	)

	ok := func(context.Context) ([]string, error) { return []string{"A"}, nil }
	bad := func(context.Context) ([]string, error) { return nil, errors.New("boom") }

	if _, err := cache.GetOrRefresh(context.Background(), "devices", time.Minute, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.GetOrRefresh(context.Background(), "events", time.Minute, bad); !errors.Is(err, ErrNoFallback) {
		t.Fatalf("expected ErrNoFallback, got %v", err)
	}

	want := []observed{{key: "devices"}, {key: "events", failed: true}}
	if diff := cmp.Diff(want, hooks, cmp.AllowUnexported(observed{})); diff != "" {
		t.Fatalf("hook observations mismatch (-want +got):\n%s", diff)
	}
}
