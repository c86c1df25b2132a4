package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// snapping pipeline. Each instance carries its own registry so tests and
// the HTTP server never fight over global registration.
type Metrics struct {
	RecordsConsumed prometheus.Counter
	RecordsProduced prometheus.Counter
	TransformErrors prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Channel snapping metrics.
	SnapOutcomes *prometheus.CounterVec // labels: outcome={snapped,original,no_channel,error}
	SnapDistance prometheus.Histogram
	SnapDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates all pipeline metrics registered on a fresh registry.
func NewMetrics() *Metrics {
	return newMetrics()
}

// NewMetricsForTesting creates Metrics and exposes the backing registry so
// tests can gather and assert on scraped values.
func NewMetricsForTesting() (*Metrics, *prometheus.Registry) {
	m := newMetrics()
	return m, m.registry
}

// Handler returns an http.Handler serving this metric set, for mounting at
// /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func newMetrics() *Metrics {
	m := &Metrics{
		RecordsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_snap",
			Name:      "records_consumed_total",
			Help:      "Total site records read from the source topic.",
		}),
		RecordsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_snap",
			Name:      "records_produced_total",
			Help:      "Total snapped sites written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "river_snap",
			Name:      "transform_errors_total",
			Help:      "Total transformation failures.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "river_snap",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "river_snap",
			Name:      "batch_size",
			Help:      "Number of records per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "river_snap",
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		SnapOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "river_snap",
			Name:      "snap_outcomes_total",
			Help:      "Channel snap attempts by outcome.",
		}, []string{"outcome"}),
		SnapDistance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "river_snap",
			Name:      "snap_distance_metres",
			Help:      "Distance from the reported coordinate to the snapped cell.",
			Buckets:   []float64{50, 100, 150, 250, 500, 750, 1000, 1500},
		}),
		SnapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "river_snap",
			Name:      "snap_duration_seconds",
			Help:      "Duration of a single grid search.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.RecordsConsumed,
		m.RecordsProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.SnapOutcomes,
		m.SnapDistance,
		m.SnapDuration,
	)

	return m
}
