package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for ingestion passes. Each Metrics owns
// its registry so a batch run can dump it with WriteTextfile.
//
// Metrics:
//   - recall_ingest_files_total{outcome} - files by outcome
//   - recall_ingest_duration_seconds - wall time of a full pass
type Metrics struct {
	Registry *prometheus.Registry

	FilesTotal *prometheus.CounterVec
	Duration   prometheus.Histogram
}

// NewMetrics creates the ingestion metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		FilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_ingest_files_total",
				Help: "Transcript files seen by ingestion, by outcome",
			},
			[]string{"outcome"},
		),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_ingest_duration_seconds",
			Help:    "Duration of an ingestion pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) observe(o Outcome) {
	m.FilesTotal.WithLabelValues(o.String()).Inc()
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
