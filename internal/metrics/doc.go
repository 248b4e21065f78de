// Package metrics is a thin, optional Prometheus layer over the
// coordination engine: lock-wait duration, active sessions, cache
// hit/miss, and exchange message counts. Every method is safe to call
// on a nil *Metrics (constructed via Disabled), so call sites never
// need to branch on whether metrics are enabled (spec.md §6.3: "pure
// ambient instrumentation; never load-bearing for correctness").
package metrics
