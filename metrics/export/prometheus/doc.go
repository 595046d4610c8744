// Package prometheus exposes engine counters as a prometheus.Collector.
//
// Register the [Collector] on the same registry that serves /metrics. Counter
// names are gosession_*_total; the one histogram is
// gosession_validate_latency_seconds and is present only when latency
// histograms are enabled.
package prometheus
