// Package metrics provides Prometheus metrics collection for Tollgate.
//
// # Metrics Categories
//
//   - Dispatch: metered calls by endpoint and outcome, latency, tokens recorded
//   - Budget: denials by scope and limit
//   - Pool: credential allocations by outcome
//   - Session: creations, conflicts, takeovers and expiries
//   - Upstream: health of the upstream API
//   - HTTP: requests by route and status
//
// All metrics live on a private registry so tests can create collectors
// freely. The Collector satisfies the observer interfaces of the dispatch,
// pool and session packages:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	allocator := pool.NewAllocator(store, pool.WithObserver(collector))
//	http.Handle("/metrics", collector.Handler())
package metrics
