package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkersRunning reports the number of live worker slots by role.
	WorkersRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_workers_running",
			Help: "Number of running worker slots by role",
		},
		[]string{"role"},
	)

	// WorkerRestartsTotal counts respawns driven by the RESTART policy, by slot.
	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_worker_restarts_total",
			Help: "Total number of worker respawns, by slot index",
		},
		[]string{"slot"},
	)

	// AcceptLockHeld is 1 when this process holds the accept lock, else 0.
	AcceptLockHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_accept_lock_held",
			Help: "Whether this worker currently holds the accept lock",
		},
	)

	// AcceptLockAcquiresTotal counts successful compare-and-swap acquisitions.
	AcceptLockAcquiresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_accept_lock_acquires_total",
			Help: "Total number of successful accept-lock acquisitions",
		},
	)

	// AcceptLockReleasesTotal counts releases, partitioned by trigger.
	AcceptLockReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_accept_lock_releases_total",
			Help: "Total number of accept-lock releases by trigger (load_gate, make_busy)",
		},
		[]string{"trigger"},
	)

	// ActiveConnections tracks the worker's current connection count.
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_active_connections",
			Help: "Current number of tracked connections on this worker",
		},
	)

	// HTTPInFlight tracks in-flight HTTP requests used by the load gate.
	HTTPInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_http_in_flight",
			Help: "Current number of in-flight HTTP requests on this worker",
		},
	)

	// LoopIterationDuration times one pass of the worker main loop.
	LoopIterationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_loop_iteration_duration_seconds",
			Help:    "Duration of one worker main-loop iteration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ControlMessagesTotal counts control-channel traffic by kind and direction.
	ControlMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_control_messages_total",
			Help: "Total number of control-channel messages by kind and direction",
		},
		[]string{"kind", "direction"},
	)

	// KeymgrRejectionsTotal counts dropped/invalid keymgr messages by reason.
	KeymgrRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_keymgr_rejections_total",
			Help: "Total number of rejected keymgr messages by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersRunning,
		WorkerRestartsTotal,
		AcceptLockHeld,
		AcceptLockAcquiresTotal,
		AcceptLockReleasesTotal,
		ActiveConnections,
		HTTPInFlight,
		LoopIterationDuration,
		ControlMessagesTotal,
		KeymgrRejectionsTotal,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
