package fanout

import (
	"log/slog"
	"time"
)

type options struct {
	batchSize   int
	itemTimeout time.Duration
	batchDelay  time.Duration
	logger      *slog.Logger
}

type Option func(*options)

func defaultOptions() options {
	return options{
		batchSize:   50,
		itemTimeout: 10 * time.Second,
		batchDelay:  100 * time.Millisecond,
		logger:      slog.Default(),
	}
}

// WithBatchSize sets how many entities are fetched concurrently per batch.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithItemTimeout sets the independent timeout applied to each entity fetch.
func WithItemTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.itemTimeout = d
		}
	}
}

// WithBatchDelay sets the minimum pause between consecutive batches; zero
// disables pacing.
func WithBatchDelay(d time.Duration) Option {
	return func(o *options) { o.batchDelay = d }
}

// WithLogger overrides the logger used for per-entity failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
