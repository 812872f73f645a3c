package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tollgate/pkg/upstream"
)

// UpstreamMetrics exposes the upstream client's health counters as gauges
// read at scrape time.
type UpstreamMetrics struct {
	healthy  prometheus.Gauge
	requests prometheus.Gauge
	failures prometheus.Gauge
}

// NewUpstreamMetrics creates and registers upstream metrics.
func NewUpstreamMetrics(namespace string, registry *prometheus.Registry) *UpstreamMetrics {
	um := &UpstreamMetrics{
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "healthy",
			Help:      "Upstream health status (1 = healthy, 0 = unhealthy)",
		}),
		requests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests",
			Help:      "Requests forwarded upstream since start",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failed_requests",
			Help:      "Forwarded requests that failed since start",
		}),
	}
	registry.MustRegister(um.healthy, um.requests, um.failures)
	return um
}

// UpdateUpstreamHealth copies a health snapshot into the gauges.
func (c *Collector) UpdateUpstreamHealth(h upstream.Health) {
	if !c.enabled {
		return
	}
	if h.Healthy {
		c.upstream.healthy.Set(1)
	} else {
		c.upstream.healthy.Set(0)
	}
	c.upstream.requests.Set(float64(h.TotalRequests))
	c.upstream.failures.Set(float64(h.FailedRequests))
}
