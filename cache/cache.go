package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store represents a simple TTL-based key-value cache abstraction. The gateway
// uses it for short-lived auxiliary state such as session tokens; the snapshot
// cache for endpoint payloads lives in the snapshot package.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
