// Package metrics implements the observability hooks with Prometheus.
//
// A Registry owns a private prometheus.Registry, so several registries (one
// per test, say) never collide. The CLI registers one with package
// observability and, when asked, writes it out in the text exposition format
// at the end of a run.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all nlink metrics.
type Registry struct {
	registry *prometheus.Registry

	// Pipeline metrics
	IndexBuildsTotal   *prometheus.CounterVec
	IndexBuildDuration prometheus.Histogram
	IndexNodes         *prometheus.GaugeVec
	CyclesDiscovered   *prometheus.GaugeVec
	CycleDiscoveryTime prometheus.Histogram
	BasinsMappedTotal  *prometheus.CounterVec
	BasinMapDuration   prometheus.Histogram
	BasinNodes         prometheus.Histogram
	BasinsInFlight     prometheus.Gauge
	TunnelPagesTotal   prometheus.Gauge
	TunnelNodesTotal   prometheus.Gauge
	TunnelClassifyTime prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheWriteBytes  *prometheus.CounterVec

	// Store metrics
	StoreLoadsTotal      *prometheus.CounterVec
	StoreLoadDuration    *prometheus.HistogramVec
	StorePages           *prometheus.GaugeVec
	RowsWrittenTotal     *prometheus.CounterVec
	SinkWriteDuration    *prometheus.HistogramVec
	SinkWriteErrorsTotal *prometheus.CounterVec
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initPipelineMetrics()
	r.initCacheMetrics()
	r.initStoreMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes every metric to path in the Prometheus text format,
// for pickup by a node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
