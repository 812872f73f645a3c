package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/dispatch"
	"mercator-hq/tollgate/pkg/pool"
	"mercator-hq/tollgate/pkg/session"
	"mercator-hq/tollgate/pkg/upstream"
)

var (
	_ dispatch.Observer = (*Collector)(nil)
	_ pool.Observer     = (*Collector)(nil)
	_ session.Observer  = (*Collector)(nil)
)

func newTestCollector(t *testing.T, enabled bool) *Collector {
	t.Helper()
	return NewCollector(&config.MetricsConfig{
		Enabled:         &enabled,
		Namespace:       "test",
		DurationBuckets: []float64{0.1, 1, 10},
	}, prometheus.NewRegistry())
}

func TestCollector_Dispatch(t *testing.T) {
	c := newTestCollector(t, true)

	c.ObserveDispatch("chat", dispatch.OutcomeSuccess, 200*time.Millisecond)
	c.ObserveDispatch("chat", dispatch.OutcomeSuccess, 2*time.Second)
	c.ObserveDispatch("chat", dispatch.OutcomeDenied, time.Millisecond)
	c.ObserveTokensRecorded("chat", 150)
	c.ObserveTokensRecorded("chat", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.dispatch.total.WithLabelValues("chat", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatch.total.WithLabelValues("chat", "denied")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.dispatch.tokens.WithLabelValues("chat")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dispatch.duration))
}

func TestCollector_Observers(t *testing.T) {
	c := newTestCollector(t, true)

	c.ObserveBudgetDenial("organization", "BudgetExceeded")
	c.ObservePoolAllocation(pool.OutcomeAssigned)
	c.ObservePoolAllocation(pool.OutcomeAssigned)
	c.ObservePoolAllocation(pool.OutcomeEmpty)
	c.ObserveSessionEvent("conflict")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.budget.denials.WithLabelValues("organization", "BudgetExceeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pool.allocations.WithLabelValues("assigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pool.allocations.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pool.sessionEvents.WithLabelValues("conflict")))
}

func TestCollector_UpstreamHealth(t *testing.T) {
	c := newTestCollector(t, true)

	c.UpdateUpstreamHealth(upstream.Health{Healthy: true, TotalRequests: 10, FailedRequests: 2})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.upstream.healthy))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.upstream.requests))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.upstream.failures))

	c.UpdateUpstreamHealth(upstream.Health{Healthy: false, TotalRequests: 13, FailedRequests: 5})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.upstream.healthy))
}

func TestCollector_Disabled(t *testing.T) {
	c := newTestCollector(t, false)
	assert.False(t, c.Enabled())

	c.ObserveDispatch("chat", "success", time.Second)
	c.ObservePoolAllocation("assigned")
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	assert.Equal(t, 0, testutil.CollectAndCount(c.dispatch.total))
	assert.Equal(t, 0, testutil.CollectAndCount(c.pool.allocations))
	assert.Equal(t, 0, testutil.CollectAndCount(c.http.requests))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(&config.MetricsConfig{}, nil)
	c.RecordHTTPRequest("POST", "/proxy/chat", 200, 50*time.Millisecond)
	c.ObserveDispatch("chat", "success", 50*time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)
	assert.True(t, strings.Contains(out, `tollgate_http_requests_total{method="POST",route="/proxy/chat",status="200"} 1`), out)
	assert.Contains(t, out, "tollgate_dispatch_total")
	assert.Contains(t, out, "go_goroutines")
}
