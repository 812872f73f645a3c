package health

import (
	"context"
	"fmt"

	"mercator-hq/tollgate/pkg/upstream"
)

// Pinger is implemented by every store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks a store by pinging it.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// UpstreamCheck reports the upstream client's passive health. It never
// sends a request of its own, so probes are not metered.
func UpstreamCheck(health func() upstream.Health) CheckFunc {
	return func(ctx context.Context) error {
		h := health()
		if h.Healthy {
			return nil
		}
		if h.LastError != "" {
			return fmt.Errorf("%d consecutive failures, last: %s", h.ConsecutiveFailures, h.LastError)
		}
		return fmt.Errorf("%d consecutive failures", h.ConsecutiveFailures)
	}
}
