// Package metrics exposes the scheduler's internal state as Prometheus
// collectors, grounded on control_plane/observability/metrics.go from the
// teacher repository. Unlike the teacher, which registers everything onto
// the global default registry at package-init time, New takes an explicit
// prometheus.Registerer (nil registers nothing) so a process embedding cueflow (or a test suite
// constructing multiple Orchestrators) never hits a duplicate-registration
// panic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of collectors the scheduler loop, gate, and watchdogs
// update during operation.
type Metrics struct {
	QueueDepth        prometheus.Gauge
	Dispatches        prometheus.Counter
	Skips             prometheus.Counter
	Rejections        *prometheus.CounterVec // reason: unknown_task, not_ready, service_full
	TimeoutsTotal     *prometheus.CounterVec // kind: pending, stall
	TickDuration      prometheus.Histogram
	AdmissionWaitTime prometheus.Histogram
	GateSaturation    *prometheus.GaugeVec // service -> in_flight/concurrency
}

// New constructs a Metrics and registers every collector on reg. Pass a
// fresh *prometheus.Registry (not prometheus.DefaultRegisterer) from tests
// that construct more than one Orchestrator to avoid duplicate
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cueflow_queue_depth",
			Help: "Current number of pending work units.",
		}),
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cueflow_dispatches_total",
			Help: "Total work units transitioned from PENDING to RUNNING.",
		}),
		Skips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cueflow_skips_total",
			Help: "Total work units completed via the stale-skip path.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cueflow_blocked_total",
			Help: "Pending work units observed blocked, by reason.",
		}, []string{"reason"}),
		TimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cueflow_timeouts_total",
			Help: "Work units failed by a watchdog, by kind.",
		}, []string{"kind"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cueflow_tick_duration_seconds",
			Help:    "Duration of one scheduler tick (snapshot through watchdogs).",
			Buckets: prometheus.DefBuckets,
		}),
		AdmissionWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cueflow_admission_wait_seconds",
			Help:    "Time a work unit spent pending before dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		GateSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cueflow_gate_saturation",
			Help: "In-flight count divided by concurrency cap, per service.",
		}, []string{"service"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.QueueDepth,
			m.Dispatches,
			m.Skips,
			m.Rejections,
			m.TimeoutsTotal,
			m.TickDuration,
			m.AdmissionWaitTime,
			m.GateSaturation,
		)
	}
	return m
}

// Noop returns a Metrics whose collectors are never registered anywhere,
// used as the default so constructing an Orchestrator without a registry
// never touches global Prometheus state.
func Noop() *Metrics {
	return New(nil)
}
