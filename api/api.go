// Package api wires the bulk data endpoints: authorization boundary, snapshot
// cache, upstream fan-out, and the response contract (X-Data-Source,
// X-Cached-At, no-store).
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reportmate/fleetgate/aggregate"
	"github.com/reportmate/fleetgate/auth"
	"github.com/reportmate/fleetgate/config"
	"github.com/reportmate/fleetgate/fanout"
	"github.com/reportmate/fleetgate/metrics"
	"github.com/reportmate/fleetgate/snapshot"
	"github.com/reportmate/fleetgate/upstream"
)

// EventSource reads the local event log. When absent, the events endpoint
// falls back to upstream fan-out like every other endpoint.
type EventSource interface {
	ListRecent(ctx context.Context, limit int) ([]aggregate.Record, error)
}

// ServiceConfig wires the dependencies required for Service.
type ServiceConfig struct {
	Config   config.Config
	Upstream *upstream.Client
	Secrets  *auth.SecretVerifier
	Sessions *auth.SessionStore
	Metrics  *metrics.Metrics
	Events   EventSource
	Logger   *slog.Logger
	Clock    func() time.Time
}

type endpoint struct {
	name      string
	cfg       config.EndpointConfig
	fetcher   *fanout.Fetcher[aggregate.Document]
	flattener *aggregate.Flattener // nil: serve whole device documents
}

// Service owns one snapshot cache shared by all bulk endpoints, keyed by
// endpoint name.
type Service struct {
	cfg       config.Config
	cache     *snapshot.Cache[[]aggregate.Record]
	upstream  *upstream.Client
	secrets   *auth.SecretVerifier
	sessions  *auth.SessionStore
	metrics   *metrics.Metrics
	events    EventSource
	logger    *slog.Logger
	endpoints map[string]*endpoint
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("api: upstream client is required")
	}
	if cfg.Secrets == nil || cfg.Sessions == nil {
		return nil, errors.New("api: auth dependencies are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Service{
		cfg:       cfg.Config,
		upstream:  cfg.Upstream,
		secrets:   cfg.Secrets,
		sessions:  cfg.Sessions,
		metrics:   cfg.Metrics,
		events:    cfg.Events,
		logger:    cfg.Logger,
		endpoints: make(map[string]*endpoint),
	}

	s.cache = snapshot.New[[]aggregate.Record](
		snapshot.WithClock(cfg.Clock),
		snapshot.WithRefreshHook(func(key, attemptID string, elapsed time.Duration, err error) {
			s.metrics.ObserveRefresh(key, elapsed, err)
			if err != nil {
				s.logger.Error("refresh failed", "endpoint", key, "attempt", attemptID, "elapsed", elapsed, "error", err)
				return
			}
			s.logger.Info("refresh completed", "endpoint", key, "attempt", attemptID, "elapsed", elapsed)
		}),
	)

	for name, epCfg := range cfg.Config.Endpoints.All() {
		ep := &endpoint{name: name, cfg: epCfg}
		ep.fetcher = fanout.New(
			func(ctx context.Context, id string) (aggregate.Document, error) {
				return s.upstream.Detail(ctx, epCfg.DetailPath, id)
			},
			fanout.WithBatchSize(epCfg.BatchSize),
			fanout.WithItemTimeout(epCfg.ItemTimeout),
			fanout.WithBatchDelay(epCfg.BatchDelay),
			fanout.WithLogger(s.logger.With("endpoint", name)),
		)
		if len(epCfg.Fields) > 0 {
			ep.flattener = aggregate.NewFlattener(aggregate.Fields(epCfg.Fields...)...)
		}
		s.endpoints[name] = ep
	}
	return s, nil
}

// serve runs the cache state machine for one endpoint and returns the result.
func (s *Service) serve(ctx context.Context, ep *endpoint) (snapshot.Result[[]aggregate.Record], error) {
	result, err := s.cache.GetOrRefresh(ctx, ep.name, ep.cfg.TTL, s.refreshFunc(ep))
	if err != nil {
		return result, err
	}
	s.metrics.CacheReads.WithLabelValues(ep.name, string(result.Source)).Inc()
	if result.Source == snapshot.SourceStaleFallback {
		s.logger.Warn("serving stale payload", "endpoint", ep.name, "cachedAt", result.CachedAt)
	}
	return result, nil
}

func (s *Service) refreshFunc(ep *endpoint) snapshot.RefreshFunc[[]aggregate.Record] {
	if ep.name == "events" && s.events != nil {
		return func(ctx context.Context) ([]aggregate.Record, error) {
			return s.events.ListRecent(ctx, 0)
		}
	}
	return func(ctx context.Context) ([]aggregate.Record, error) {
		return s.aggregateUpstream(ctx, ep)
	}
}

// aggregateUpstream is the refresh pipeline: discovery list, bounded fan-out,
// flatten. Per-entity failures are absorbed; only discovery failure is fatal.
func (s *Service) aggregateUpstream(ctx context.Context, ep *endpoint) ([]aggregate.Record, error) {
	listed, err := s.upstream.List(ctx, ep.cfg.ListPath)
	if err != nil {
		return nil, fmt.Errorf("api: %s: %w", ep.name, err)
	}

	ids := make([]string, 0, len(listed))
	for _, doc := range listed {
		if id := aggregate.EntityID(doc); id != "" {
			ids = append(ids, id)
		}
	}

	batch := ep.fetcher.Run(ctx, ids)
	if n := len(batch.Failed); n > 0 {
		s.metrics.FanoutFailures.WithLabelValues(ep.name).Add(float64(n))
	}

	if ep.flattener != nil {
		return ep.flattener.Flatten(batch.Succeeded), nil
	}
	return aggregate.DeviceRecords(batch.Succeeded), nil
}
