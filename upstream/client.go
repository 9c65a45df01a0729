// Package upstream talks to the fleet API the gateway aggregates. The API is
// loosely shaped: list responses arrive either as a bare array or wrapped in
// an envelope, detail responses are nested schema-free documents. Requests
// authenticate with a shared secret header rather than sessions.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/reportmate/fleetgate/aggregate"
	"github.com/reportmate/fleetgate/httpx"
)

var (
	// ErrListUnavailable wraps discovery failures; without the entity list no
	// partial aggregation is possible.
	ErrListUnavailable = errors.New("upstream: entity list unavailable")

	// ErrBadListShape reports a list response that is neither an array nor a
	// recognizable envelope.
	ErrBadListShape = errors.New("upstream: unrecognized list response shape")
)

// envelope keys tried in order when the list response is not a bare array.
var listEnvelopeKeys = []string{"entities", "devices", "items", "data", "results"}

// Client fetches entity lists and per-entity detail documents.
type Client struct {
	http    *httpx.Client
	breaker *gobreaker.CircuitBreaker[[]aggregate.Document]
}

func NewClient(opts ...Option) *Client {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if cfg.secret != "" {
		headers[cfg.secretHeader] = cfg.secret
	}

	c := &Client{
		http: httpx.NewClient(
			httpx.WithBaseURL(cfg.baseURL),
			httpx.WithClientTimeout(cfg.timeout),
			httpx.WithHeaders(headers),
		),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]aggregate.Document](gobreaker.Settings{
		Name:        "upstream-list",
		MaxRequests: cfg.breakerMaxRequests,
		Interval:    cfg.breakerInterval,
		Timeout:     cfg.breakerTimeout,
	})
	return c
}

// List fetches the entity discovery endpoint at path. Failures here are fatal
// to a refresh; the circuit breaker keeps a dead upstream from being hammered
// by every cache miss.
func (c *Client) List(ctx context.Context, path string) ([]aggregate.Document, error) {
	docs, err := c.breaker.Execute(func() ([]aggregate.Document, error) {
		resp, err := c.http.Get(ctx, path, nil)
		if err != nil {
			return nil, err
		}
		return decodeList(resp.Body())
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListUnavailable, err)
	}
	return docs, nil
}

// Detail fetches one entity's nested document. The path template's "{id}"
// placeholder is replaced with the entity id.
func (c *Client) Detail(ctx context.Context, pathTemplate, id string) (aggregate.Document, error) {
	path := strings.ReplaceAll(pathTemplate, "{id}", id)
	resp, err := c.http.Get(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: detail %s: %w", id, err)
	}
	var doc aggregate.Document
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, fmt.Errorf("upstream: detail %s: decode: %w", id, err)
	}
	return doc, nil
}

func decodeList(body []byte) ([]aggregate.Document, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadListShape, err)
	}

	switch v := raw.(type) {
	case []any:
		return toDocuments(v), nil
	case map[string]any:
		for _, key := range listEnvelopeKeys {
			if items, ok := v[key].([]any); ok {
				return toDocuments(items), nil
			}
		}
		// Fall back to the first array-valued field.
		for _, value := range v {
			if items, ok := value.([]any); ok {
				return toDocuments(items), nil
			}
		}
	}
	return nil, ErrBadListShape
}

func toDocuments(items []any) []aggregate.Document {
	docs := make([]aggregate.Document, 0, len(items))
	for _, item := range items {
		if doc, ok := item.(map[string]any); ok {
			docs = append(docs, aggregate.Document(doc))
		}
	}
	return docs
}
