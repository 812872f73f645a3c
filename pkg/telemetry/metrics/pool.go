package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics tracks credential allocation and session lifecycle.
type PoolMetrics struct {
	allocations   *prometheus.CounterVec
	sessionEvents *prometheus.CounterVec
}

// NewPoolMetrics creates and registers pool and session metrics.
func NewPoolMetrics(namespace string, registry *prometheus.Registry) *PoolMetrics {
	pm := &PoolMetrics{
		allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_allocations_total",
				Help:      "Credential allocations by outcome",
			},
			[]string{"outcome"},
		),
		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Session lifecycle events",
			},
			[]string{"event"},
		),
	}
	registry.MustRegister(pm.allocations, pm.sessionEvents)
	return pm
}

// ObservePoolAllocation records an allocation outcome.
func (c *Collector) ObservePoolAllocation(outcome string) {
	if !c.enabled {
		return
	}
	c.pool.allocations.WithLabelValues(outcome).Inc()
}

// ObserveSessionEvent records a session event.
func (c *Collector) ObserveSessionEvent(event string) {
	if !c.enabled {
		return
	}
	c.pool.sessionEvents.WithLabelValues(event).Inc()
}
