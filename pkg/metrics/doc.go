/*
Package metrics exposes fleetd's operational state as Prometheus gauges,
counters, and histograms: worker liveness by role, accept-lock
acquire/release activity, the two load-gate inputs (active connections,
in-flight HTTP requests), loop-iteration latency, and control-channel and
keymgr traffic.

Metrics are registered at package init against the default registry and
served by Handler(), which a caller mounts alongside the existing pprof
convention:

	mux.Handle("/metrics", metrics.Handler())
*/
package metrics
