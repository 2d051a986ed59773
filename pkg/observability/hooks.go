// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about analysis runs, cache operations, and store I/O.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// Hooks are registered by main, not by libraries, so analysis packages never
// import a metrics backend. Package metrics provides a Prometheus backend.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    reg := metrics.NewRegistry()
//	    observability.SetPipelineHooks(reg)
//	    observability.SetCacheHooks(reg)
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Pipeline().OnBasinStart(ctx, n, key)
//	// ... map the basin ...
//	observability.Pipeline().OnBasinComplete(ctx, n, key, nodes, partial, duration, err)
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from an analysis run.
type PipelineHooks interface {
	// Index events, one per N
	OnIndexStart(ctx context.Context, n int)
	OnIndexComplete(ctx context.Context, n int, nodes int, duration time.Duration, err error)

	// OnCyclesDiscovered records the cycles found at one N.
	OnCyclesDiscovered(ctx context.Context, n int, cycles int, duration time.Duration)

	// Basin events, one per (N, cycle)
	OnBasinStart(ctx context.Context, n int, cycleKey string)
	OnBasinComplete(ctx context.Context, n int, cycleKey string, nodes int, partial bool, duration time.Duration, err error)

	// OnTunnelsComplete records the cross-N classification.
	OnTunnelsComplete(ctx context.Context, pages, tunnels int, duration time.Duration)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// Store Hooks
// =============================================================================

// StoreHooks receives events from link store loads and table sinks.
type StoreHooks interface {
	// OnStoreLoad records a link store being opened or loaded.
	OnStoreLoad(ctx context.Context, backend string, pages int, duration time.Duration, err error)

	// OnRowsWritten records a batch of rows written to an output table.
	OnRowsWritten(ctx context.Context, table string, rows int, duration time.Duration, err error)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnIndexStart(context.Context, int)                               {}
func (NoopPipelineHooks) OnIndexComplete(context.Context, int, int, time.Duration, error) {}
func (NoopPipelineHooks) OnCyclesDiscovered(context.Context, int, int, time.Duration)     {}
func (NoopPipelineHooks) OnBasinStart(context.Context, int, string)                       {}
func (NoopPipelineHooks) OnBasinComplete(context.Context, int, string, int, bool, time.Duration, error) {
}
func (NoopPipelineHooks) OnTunnelsComplete(context.Context, int, int, time.Duration) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopStoreHooks is a no-op implementation of StoreHooks.
type NoopStoreHooks struct{}

func (NoopStoreHooks) OnStoreLoad(context.Context, string, int, time.Duration, error)   {}
func (NoopStoreHooks) OnRowsWritten(context.Context, string, int, time.Duration, error) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	pipelineHooks PipelineHooks = NoopPipelineHooks{}
	cacheHooks    CacheHooks    = NoopCacheHooks{}
	storeHooks    StoreHooks    = NoopStoreHooks{}
	hooksMu       sync.RWMutex
)

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any pipeline operations.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetStoreHooks registers custom store hooks.
// This should be called once at application startup before any store operations.
func SetStoreHooks(h StoreHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		storeHooks = h
	}
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Store returns the registered store hooks.
func Store() StoreHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return storeHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	pipelineHooks = NoopPipelineHooks{}
	cacheHooks = NoopCacheHooks{}
	storeHooks = NoopStoreHooks{}
}
