package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCacheMetrics() {
	r.CacheHitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"key_type"}, // cycles, basin
	)

	r.CacheMissesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"key_type"},
	)

	r.CacheWriteBytes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlink_cache_write_bytes_total",
			Help: "Total bytes written to the cache",
		},
		[]string{"key_type"},
	)
}
