package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStoreMetrics() {
	r.StoreLoadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_store_loads_total",
			Help: "Total number of link store loads",
		},
		[]string{"backend", "status"},
	)

	r.StoreLoadDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlink_store_load_duration_seconds",
			Help:    "Duration of link store loads in seconds",
			Buckets: []float64{0.1, 1, 5, 30, 120, 600},
		},
		[]string{"backend"},
	)

	r.StorePages = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nlink_store_pages",
			Help: "Pages in the loaded link store",
		},
		[]string{"backend"},
	)

	r.RowsWrittenTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_rows_written_total",
			Help: "Total rows written per output table",
		},
		[]string{"table"},
	)

	r.SinkWriteDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlink_sink_write_duration_seconds",
			Help:    "Duration of output batch writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	r.SinkWriteErrorsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_sink_write_errors_total",
			Help: "Total failed output batch writes",
		},
		[]string{"table"},
	)
}
