package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPipelineMetrics() {
	r.IndexBuildsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_index_builds_total",
			Help: "Total number of successor index builds",
		},
		[]string{"status"}, // success, error
	)

	r.IndexBuildDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlink_index_build_duration_seconds",
			Help:    "Duration of successor index builds in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	r.IndexNodes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nlink_index_nodes",
			Help: "Pages in the successor index per N",
		},
		[]string{"n"},
	)

	r.CyclesDiscovered = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nlink_cycles_discovered",
			Help: "Cycles discovered per N",
		},
		[]string{"n"},
	)

	r.CycleDiscoveryTime = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlink_cycle_discovery_duration_seconds",
			Help:    "Duration of cycle discovery in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60},
		},
	)

	r.BasinsMappedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_basins_mapped_total",
			Help: "Total number of basin maps",
		},
		[]string{"status"}, // complete, partial, error
	)

	r.BasinMapDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlink_basin_map_duration_seconds",
			Help:    "Duration of basin maps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	r.BasinNodes = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlink_basin_nodes",
			Help:    "Pages per mapped basin, cycle included",
			Buckets: prometheus.ExponentialBuckets(1, 10, 9),
		},
	)

	r.BasinsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "nlink_basins_in_flight",
			Help: "Basin maps currently running",
		},
	)

	r.TunnelPagesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "nlink_tunnel_pages",
			Help: "Pages classified across N",
		},
	)

	r.TunnelNodesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "nlink_tunnel_nodes",
			Help: "Pages whose basin changes across N",
		},
	)

	r.TunnelClassifyTime = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlink_tunnel_classify_duration_seconds",
			Help:    "Duration of tunnel classification in seconds",
			Buckets: []float64{0.01, 0.1, 1, 10, 60},
		},
	)
}
