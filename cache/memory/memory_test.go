package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reportmate/fleetgate/cache"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

func TestSetGetDelete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("unexpected value: %q", got)
	}

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(WithClock(clock.Now))
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := store.Get(ctx, "k"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}

	clock.Advance(2 * time.Second)
	if _, err := store.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("abc"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := store.Get(ctx, "k")
	first[0] = 'x'

	second, _ := store.Get(ctx, "k")
	if string(second) != "abc" {
		t.Fatalf("stored value was mutated through a returned slice: %q", second)
	}
}

func TestCanceledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if err := store.Set(ctx, "k", nil, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
