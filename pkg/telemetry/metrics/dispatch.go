package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics tracks metered calls.
//
// Metrics:
//   - tollgate_dispatch_total: calls by endpoint and outcome
//   - tollgate_dispatch_duration_seconds: end-to-end call latency
//   - tollgate_tokens_recorded_total: tokens appended to the ledger
type DispatchMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
}

// NewDispatchMetrics creates and registers dispatch metrics.
func NewDispatchMetrics(namespace string, buckets []float64, registry *prometheus.Registry) *DispatchMetrics {
	dm := &DispatchMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Metered calls by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of metered calls in seconds",
				Buckets:   buckets,
			},
			[]string{"endpoint"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_recorded_total",
				Help:      "Tokens appended to the usage ledger",
			},
			[]string{"endpoint"},
		),
	}

	registry.MustRegister(dm.total, dm.duration, dm.tokens)
	return dm
}

// ObserveDispatch records a finished call.
func (c *Collector) ObserveDispatch(endpoint, outcome string, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.dispatch.total.WithLabelValues(endpoint, outcome).Inc()
	c.dispatch.duration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveTokensRecorded records tokens charged to the ledger.
func (c *Collector) ObserveTokensRecorded(endpoint string, tokens int64) {
	if !c.enabled || tokens <= 0 {
		return
	}
	c.dispatch.tokens.WithLabelValues(endpoint).Add(float64(tokens))
}
