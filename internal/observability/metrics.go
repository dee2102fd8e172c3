// Package observability holds the Prometheus metrics for fetch runs.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty" // response carried no parameter data
)

// Metrics holds the counters and histograms for a batch run. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Requests        *prometheus.CounterVec // labels: outcome={success,error,empty}
	RequestDuration prometheus.Histogram
	RowsCollected   prometheus.Counter
	LocationsFailed prometheus.Counter
	LastRunSuccess  prometheus.Gauge
}

// NewMetrics creates the run metrics and registers them with reg. The CLI
// passes a fresh registry per run so the textfile holds only that run.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bdpower",
			Name:      "power_requests_total",
			Help:      "POWER point requests by outcome.",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bdpower",
			Name:      "power_request_duration_seconds",
			Help:      "Duration of a single POWER point request including normalization.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		RowsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bdpower",
			Name:      "rows_collected_total",
			Help:      "Observation rows added to the combined dataset.",
		}),
		LocationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bdpower",
			Name:      "locations_failed_total",
			Help:      "Locations with no data in the combined dataset.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bdpower",
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last run that collected at least one row.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Requests,
			m.RequestDuration,
			m.RowsCollected,
			m.LocationsFailed,
			m.LastRunSuccess,
		)
	}
	return m
}

// ObserveRequest records one location fetch.
func (m *Metrics) ObserveRequest(outcome string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(d.Seconds())
	if outcome == OutcomeSuccess {
		m.RowsCollected.Add(float64(rows))
	} else {
		m.LocationsFailed.Inc()
	}
}

// MarkSuccess stamps the last successful run.
func (m *Metrics) MarkSuccess(at time.Time) {
	if m == nil {
		return
	}
	m.LastRunSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes everything gathered by g in the node_exporter
// textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
