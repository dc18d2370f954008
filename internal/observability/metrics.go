package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "climate_compiler"

// Metrics holds the Prometheus collectors for compiles, downloads and tiles.
type Metrics struct {
	CompilesTotal   *prometheus.CounterVec   // labels: dataset, outcome={success,error,empty}
	CompileDuration *prometheus.HistogramVec // labels: dataset
	BundleSteps     *prometheus.GaugeVec     // labels: dataset

	DownloadsTotal   *prometheus.CounterVec   // labels: dataset, outcome={success,error}
	DownloadDuration *prometheus.HistogramVec // labels: dataset
	DownloadBytes    *prometheus.CounterVec   // labels: dataset

	TilesFetched  *prometheus.CounterVec // labels: outcome={success,error}
	Notifications *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CompilesTotal,
		m.CompileDuration,
		m.BundleSteps,
		m.DownloadsTotal,
		m.DownloadDuration,
		m.DownloadBytes,
		m.TilesFetched,
		m.Notifications,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as
// many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CompilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Compile runs by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		CompileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Wall time of a complete fetch-aggregate-sort-write compile.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}, []string{"dataset"}),
		BundleSteps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bundle_time_steps",
			Help:      "Number of time steps in the most recently compiled bundle.",
		}, []string{"dataset"}),
		DownloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "CDS retrievals by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		DownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of a single CDS retrieval including queueing.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"dataset"}),
		DownloadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written to the scratch directory by CDS retrievals.",
		}, []string{"dataset"}),
		TilesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_fetched_total",
			Help:      "Base-map tile fetches by outcome.",
		}, []string{"outcome"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Compile-completed events published by outcome.",
		}, []string{"outcome"}),
	}
}
