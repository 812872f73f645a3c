// Package health implements liveness and readiness probes.
//
// Liveness only reports that the process runs. Readiness runs every
// registered check concurrently, each bounded by the check timeout. Stores
// are registered as critical checks: when one fails readiness returns 503
// and load balancers stop routing calls that could not be recorded. The
// upstream API is non-critical; its failures degrade the status but keep
// the instance in rotation, since usage queries and session management
// still work.
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("storage", health.PingCheck(store))
//	checker.RegisterNonCritical("upstream", health.UpstreamCheck(client.Health))
//	router.Handle("/ready", checker.ReadinessHandler())
package health
