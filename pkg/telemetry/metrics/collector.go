package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mercator-hq/tollgate/pkg/config"
)

// Collector owns every Tollgate metric. A disabled collector accepts all
// observations and records nothing.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	dispatch *DispatchMetrics
	budget   *BudgetMetrics
	pool     *PoolMetrics
	upstream *UpstreamMetrics
	http     *HTTPMetrics
}

// NewCollector creates a collector with the specified configuration. If
// registry is nil a new one is created, along with the Go runtime and
// process collectors.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = config.DefaultDurationBuckets
	}

	return &Collector{
		enabled:  config.Enabled(cfg.Enabled, true),
		registry: registry,
		dispatch: NewDispatchMetrics(namespace, buckets, registry),
		budget:   NewBudgetMetrics(namespace, registry),
		pool:     NewPoolMetrics(namespace, registry),
		upstream: NewUpstreamMetrics(namespace, registry),
		http:     NewHTTPMetrics(namespace, registry),
	}
}

// Enabled reports whether observations are recorded.
func (c *Collector) Enabled() bool {
	return c.enabled
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
