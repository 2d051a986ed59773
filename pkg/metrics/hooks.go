package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/matzehuels/nlink/pkg/observability"
)

// Registry implements every observability hook interface.
var (
	_ observability.PipelineHooks = (*Registry)(nil)
	_ observability.CacheHooks    = (*Registry)(nil)
	_ observability.StoreHooks    = (*Registry)(nil)
)

// Register installs r as the pipeline, cache and store hooks.
func (r *Registry) Register() {
	observability.SetPipelineHooks(r)
	observability.SetCacheHooks(r)
	observability.SetStoreHooks(r)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// OnIndexStart implements observability.PipelineHooks.
func (r *Registry) OnIndexStart(context.Context, int) {}

// OnIndexComplete implements observability.PipelineHooks.
func (r *Registry) OnIndexComplete(_ context.Context, n int, nodes int, duration time.Duration, err error) {
	r.IndexBuildsTotal.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	r.IndexBuildDuration.Observe(duration.Seconds())
	r.IndexNodes.WithLabelValues(strconv.Itoa(n)).Set(float64(nodes))
}

// OnCyclesDiscovered implements observability.PipelineHooks.
func (r *Registry) OnCyclesDiscovered(_ context.Context, n int, cycles int, duration time.Duration) {
	r.CyclesDiscovered.WithLabelValues(strconv.Itoa(n)).Set(float64(cycles))
	r.CycleDiscoveryTime.Observe(duration.Seconds())
}

// OnBasinStart implements observability.PipelineHooks.
func (r *Registry) OnBasinStart(context.Context, int, string) {
	r.BasinsInFlight.Inc()
}

// OnBasinComplete implements observability.PipelineHooks.
func (r *Registry) OnBasinComplete(_ context.Context, _ int, _ string, nodes int, partial bool, duration time.Duration, err error) {
	r.BasinsInFlight.Dec()
	switch {
	case err != nil:
		r.BasinsMappedTotal.WithLabelValues("error").Inc()
		return
	case partial:
		r.BasinsMappedTotal.WithLabelValues("partial").Inc()
	default:
		r.BasinsMappedTotal.WithLabelValues("complete").Inc()
	}
	r.BasinMapDuration.Observe(duration.Seconds())
	r.BasinNodes.Observe(float64(nodes))
}

// OnTunnelsComplete implements observability.PipelineHooks.
func (r *Registry) OnTunnelsComplete(_ context.Context, pages, tunnels int, duration time.Duration) {
	r.TunnelPagesTotal.Set(float64(pages))
	r.TunnelNodesTotal.Set(float64(tunnels))
	r.TunnelClassifyTime.Observe(duration.Seconds())
}

// OnCacheHit implements observability.CacheHooks.
func (r *Registry) OnCacheHit(_ context.Context, keyType string) {
	r.CacheHitsTotal.WithLabelValues(keyType).Inc()
}

// OnCacheMiss implements observability.CacheHooks.
func (r *Registry) OnCacheMiss(_ context.Context, keyType string) {
	r.CacheMissesTotal.WithLabelValues(keyType).Inc()
}

// OnCacheSet implements observability.CacheHooks.
func (r *Registry) OnCacheSet(_ context.Context, keyType string, size int) {
	r.CacheWriteBytes.WithLabelValues(keyType).Add(float64(size))
}

// OnStoreLoad implements observability.StoreHooks.
func (r *Registry) OnStoreLoad(_ context.Context, backend string, pages int, duration time.Duration, err error) {
	r.StoreLoadsTotal.WithLabelValues(backend, status(err)).Inc()
	if err != nil {
		return
	}
	r.StoreLoadDuration.WithLabelValues(backend).Observe(duration.Seconds())
	r.StorePages.WithLabelValues(backend).Set(float64(pages))
}

// OnRowsWritten implements observability.StoreHooks.
func (r *Registry) OnRowsWritten(_ context.Context, table string, rows int, duration time.Duration, err error) {
	if err != nil {
		r.SinkWriteErrorsTotal.WithLabelValues(table).Inc()
		return
	}
	r.RowsWrittenTotal.WithLabelValues(table).Add(float64(rows))
	r.SinkWriteDuration.WithLabelValues(table).Observe(duration.Seconds())
}
