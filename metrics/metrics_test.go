package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRefreshCountsFailures(t *testing.T) {
	m := New()

	m.ObserveRefresh("devices", 120*time.Millisecond, nil)
	m.ObserveRefresh("devices", 80*time.Millisecond, errors.New("upstream down"))

	if got := testutil.ToFloat64(m.RefreshFailures.WithLabelValues("devices")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.CollectAndCount(m.RefreshDuration); got == 0 {
		t.Fatal("expected refresh duration samples")
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.CacheReads.WithLabelValues("devices", "fresh").Inc()
	m.FanoutFailures.WithLabelValues("applications").Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, name := range []string{"fleetgate_cache_reads_total", "fleetgate_fanout_entity_failures_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("missing %s in exposition:\n%s", name, body)
		}
	}
}

func TestInstancesAreIsolated(t *testing.T) {
	a := New()
	b := New()
	a.CacheReads.WithLabelValues("devices", "fresh").Inc()

	if got := testutil.ToFloat64(b.CacheReads.WithLabelValues("devices", "fresh")); got != 0 {
		t.Fatalf("registries leak between instances: %v", got)
	}
}
