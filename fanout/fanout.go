// Package fanout retrieves per-entity detail documents under a concurrency
// cap. Entity ids are split into fixed-size batches; batches run sequentially
// with an inter-batch pace, entities within a batch are fetched concurrently,
// and each fetch carries its own timeout. A failed entity is recorded and
// skipped, never fatal to the run.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FetchFunc retrieves the detail document for one entity id.
type FetchFunc[T any] func(ctx context.Context, id string) (T, error)

// Failure records one entity whose detail fetch did not produce a document.
type Failure struct {
	EntityID string
	Err      error
}

// BatchResult aggregates one full fan-out run. Succeeded preserves input
// order for the entities that made it; Failed carries the rest with reasons.
type BatchResult[T any] struct {
	Succeeded []T
	Failed    []Failure
}

// Fetcher runs bounded fan-out rounds against one detail source.
type Fetcher[T any] struct {
	fetch       FetchFunc[T]
	batchSize   int
	itemTimeout time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
}

func New[T any](fetch FetchFunc[T], opts ...Option) *Fetcher[T] {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	f := &Fetcher[T]{
		fetch:       fetch,
		batchSize:   cfg.batchSize,
		itemTimeout: cfg.itemTimeout,
		logger:      cfg.logger,
	}
	if cfg.batchDelay > 0 {
		f.limiter = rate.NewLimiter(rate.Every(cfg.batchDelay), 1)
	}
	return f
}

// Run fetches every id and returns the aggregate outcome. It never returns an
// error: per-entity failures land in the result, and a canceled context marks
// the not-yet-dispatched remainder as failed rather than blocking.
func (f *Fetcher[T]) Run(ctx context.Context, ids []string) BatchResult[T] {
	results := make([]*T, len(ids))

	var mu sync.Mutex
	var failed []Failure
	fail := func(id string, err error) {
		mu.Lock()
		failed = append(failed, Failure{EntityID: id, Err: err})
		mu.Unlock()
	}

	for start := 0; start < len(ids); start += f.batchSize {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				for _, id := range ids[start:] {
					fail(id, err)
				}
				break
			}
		}

		end := min(start+f.batchSize, len(ids))
		g, batchCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				itemCtx, cancel := context.WithTimeout(batchCtx, f.itemTimeout)
				defer cancel()
				doc, err := f.fetch(itemCtx, ids[i])
				if err != nil {
					f.logger.Warn("detail fetch failed", "entity", ids[i], "error", err)
					fail(ids[i], err)
					return nil
				}
				results[i] = &doc
				return nil
			})
		}
		_ = g.Wait()
	}

	succeeded := make([]T, 0, len(ids))
	for _, r := range results {
		if r != nil {
			succeeded = append(succeeded, *r)
		}
	}
	if len(failed) > 0 {
		f.logger.Info("fan-out completed with failures",
			"total", len(ids), "succeeded", len(succeeded), "failed", len(failed))
	}
	return BatchResult[T]{Succeeded: succeeded, Failed: failed}
}
