package metrics

import "github.com/prometheus/client_golang/prometheus"

// BudgetMetrics tracks budget denials by scope and limit code.
type BudgetMetrics struct {
	denials *prometheus.CounterVec
}

// NewBudgetMetrics creates and registers budget metrics.
func NewBudgetMetrics(namespace string, registry *prometheus.Registry) *BudgetMetrics {
	bm := &BudgetMetrics{
		denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "budget_denials_total",
				Help:      "Calls refused by a budget limit",
			},
			[]string{"scope", "code"},
		),
	}
	registry.MustRegister(bm.denials)
	return bm
}

// ObserveBudgetDenial records a refused call.
func (c *Collector) ObserveBudgetDenial(scope, code string) {
	if !c.enabled {
		return
	}
	c.budget.denials.WithLabelValues(scope, code).Inc()
}
