package memory

import (
	"context"
	"sync"
	"time"

	"github.com/reportmate/fleetgate/cache"
)

type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Store implements cache.Store with a process-local map. Expired items are
// dropped lazily on read and by an optional background sweep.
type Store struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

type Option func(*Store)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweepInterval starts a background goroutine that evicts expired items.
// Without it, expired items linger until the next Get for their key.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d <= 0 {
			return
		}
		go s.sweep(d)
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		items: make(map[string]item),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, cache.ErrNotFound
	}
	if s.expired(it) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have replaced it.
		if current, ok := s.items[key]; ok && s.expired(current) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, cache.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = it
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	_, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	if !ok {
		return cache.ErrNotFound
	}
	return nil
}

// Close stops the background sweep, if one was started.
func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Store) expired(it item) bool {
	return !it.expiresAt.IsZero() && !s.now().Before(it.expiresAt)
}

func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			for key, it := range s.items {
				if s.expired(it) {
					delete(s.items, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
