// Package ledger implements the usage ledger: an append-only log of every
// metered call together with read-side rollups.
//
// # Records
//
// A UsageRecord is immutable and uniquely identified. Appending a record
// whose ID already exists is a no-op, so a caller that retries Record after
// an ambiguous failure never counts the same usage twice.
//
// # Rollups
//
// Rollups are computed from records on every read. No counter is
// pre-aggregated and trusted, which keeps every replica able to compute the
// same answer from the shared store:
//
//	month := ledger.MonthWindow(now, time.UTC, 1)
//	r, err := l.Rollup(ctx, ledger.OrganizationScope("org-1"), month)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(r.TotalTokens, r.RequestCount, r.SuccessRate)
//
// Windows are half-open: a record at exactly Window.End belongs to the next
// window.
//
// # Thread Safety
//
// Ledger holds no mutable state of its own; concurrency guarantees come from
// the Storage implementation, which must make Append atomic.
package ledger
