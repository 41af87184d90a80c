package sweep

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusReplaced = "replaced"
	statusSkipped  = "skipped_corrupt"
)

// Metrics holds the Prometheus metrics of the sweep driver.
type Metrics struct {
	recordsTotal  *prometheus.CounterVec
	bytesZeroed   prometheus.Counter
	sweepDuration prometheus.Histogram
	sweepsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the sweep metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		recordsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "munin_sweep_records_total",
				Help: "Records processed by hard-delete sweeps",
			},
			[]string{"status"},
		),
		bytesZeroed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "munin_sweep_bytes_zeroed_total",
				Help: "Bytes of user metadata and payload destroyed by hard-delete sweeps",
			},
		),
		sweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "munin_sweep_duration_seconds",
				Help:    "Hard-delete sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		sweepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "munin_sweeps_total",
				Help: "Completed hard-delete sweeps",
			},
			[]string{"status"},
		),
	}
}

// RecordReplaced records one replaced record and the bytes zeroed in it.
func (m *Metrics) RecordReplaced(bytesZeroed int64) {
	m.recordsTotal.WithLabelValues(statusReplaced).Inc()
	m.bytesZeroed.Add(float64(bytesZeroed))
}

// RecordSkipped records corrupt candidates skipped by a sweep.
func (m *Metrics) RecordSkipped(n int) {
	m.recordsTotal.WithLabelValues(statusSkipped).Add(float64(n))
}

// RecordSweep records a finished sweep.
func (m *Metrics) RecordSweep(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.sweepsTotal.WithLabelValues(status).Inc()
	m.sweepDuration.Observe(duration.Seconds())
}
