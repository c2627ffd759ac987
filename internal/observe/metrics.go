package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors fed by the recorder. All series
// share the tickd_ prefix.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
	ticks    prometheus.Counter
}

// NewMetrics registers the scheduler collectors with reg, or with the
// default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickd_runs_total",
			Help: "Terminal run outcomes per job.",
		}, []string{"job", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tickd_run_duration_seconds",
			Help:    "Wall-clock duration of executed runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}, []string{"job"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "tickd_jobs_inflight",
			Help: "Runs dispatched and not yet finished.",
		}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "tickd_ticks_total",
			Help: "Schedule evaluation passes performed.",
		}),
	}
}
