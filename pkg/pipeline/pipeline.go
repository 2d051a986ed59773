// Package pipeline runs a complete N-link basin analysis.
//
// A run covers a set of N values. For each N the [Runner] builds the
// successor index, discovers every cycle and maps each cycle's basin,
// then derives branches and trunkiness; once every N is done the basin
// assignments of all N values are classified into the tunnel table.
//
// # Concurrency
//
// N values run in parallel (Options.Concurrency) and, within one N, basins
// are mapped in parallel (Options.BasinWorkers). Every output table has a
// single writer goroutine (package tables); the cross-N matrix is owned by
// one goroutine fed over a channel.
//
// # Failures
//
// A MISSING_NODE error fails its N; a DATA_CONSISTENCY error fails its
// basin. Either way the rest of the run continues, and the failures are
// returned together, alongside the results of every job that succeeded.
// Cancellation and sink errors abort the run.
//
// # Usage
//
//	runner := pipeline.NewRunner(c, nil, logger)
//	res, err := runner.Execute(ctx, store, sink, pipeline.Options{Ns: []int{1, 2, 3}})
//	if res == nil {
//	    return err // the run never started
//	}
//	// err, if set, lists the failed jobs
package pipeline

import (
	"runtime"
	"time"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/branch"
	"github.com/matzehuels/nlink/pkg/cache"
	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/successor"
	"github.com/matzehuels/nlink/pkg/tables"
	"github.com/matzehuels/nlink/pkg/trunk"
	"github.com/matzehuels/nlink/pkg/tunnel"
)

// Default values shared by the CLI and config files.
const (
	DefaultConcurrency = 4
	DefaultTopK        = branch.DefaultTopK
)

// Options configures a run.
type Options struct {
	Ns []int `json:"ns"`

	// Basin budgets; zero is unlimited.
	MaxDepth int `json:"max_depth,omitempty"`
	MaxRows  int `json:"max_rows,omitempty"`

	TopK           int  `json:"top_k,omitempty"`
	DanglingAsHalt bool `json:"dangling_as_halt,omitempty"`

	// Concurrency bounds the N values processed at once; BasinWorkers the
	// basins mapped at once within one N (GOMAXPROCS when zero).
	Concurrency  int `json:"concurrency,omitempty"`
	BasinWorkers int `json:"basin_workers,omitempty"`

	// Refresh skips cache reads; results are still written back.
	Refresh bool `json:"refresh,omitempty"`

	validated bool
}

// ValidateAndSetDefaults checks the options and fills in defaults.
// It is idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if len(o.Ns) == 0 {
		return nlerrors.New(nlerrors.ErrCodeInvalidInput, "at least one n is required")
	}
	for _, n := range o.Ns {
		if err := nlerrors.ValidateN(n); err != nil {
			return err
		}
	}
	if err := nlerrors.ValidateBudget(o.MaxDepth, o.MaxRows); err != nil {
		return err
	}
	if o.TopK < 0 {
		return nlerrors.New(nlerrors.ErrCodeInvalidInput, "top-k must be >= 0, got %d", o.TopK)
	}
	if o.TopK == 0 {
		o.TopK = DefaultTopK
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.BasinWorkers <= 0 {
		o.BasinWorkers = runtime.GOMAXPROCS(0)
	}
	o.validated = true
	return nil
}

// IndexOptions returns the successor index options.
func (o Options) IndexOptions() successor.Options {
	return successor.Options{DanglingAsHalt: o.DanglingAsHalt}
}

// BasinOptions returns the basin budgets.
func (o Options) BasinOptions() basin.Options {
	return basin.Options{MaxDepth: o.MaxDepth, MaxRows: o.MaxRows}
}

// CyclesKeyOpts returns cache key options for cycle lists.
func (o Options) CyclesKeyOpts() cache.CyclesKeyOpts {
	return cache.CyclesKeyOpts{DanglingAsHalt: o.DanglingAsHalt}
}

// BasinKeyOpts returns cache key options for basin maps.
func (o Options) BasinKeyOpts() cache.BasinKeyOpts {
	return cache.BasinKeyOpts{MaxDepth: o.MaxDepth, MaxRows: o.MaxRows}
}

// manifestOptions is the options record stored in the run manifest.
func (o Options) manifestOptions() map[string]any {
	return map[string]any{
		"max_depth":        o.MaxDepth,
		"max_rows":         o.MaxRows,
		"top_k":            o.TopK,
		"dangling_as_halt": o.DanglingAsHalt,
		"concurrency":      o.Concurrency,
	}
}

// Result is the outcome of a run.
type Result struct {
	RunID       string
	StoreDigest string

	// PerN holds one entry per N value, ascending.
	PerN []NStats

	// Trunkiness holds one row per mapped basin, ordered by N then cycle key.
	Trunkiness []trunk.Row

	Tunnels tunnel.Summary

	// Rows counts rows written per table; nil without a sink.
	Rows map[string]int

	// Errors lists the failed jobs.
	Errors []tables.JobError

	Stats Stats
}

// NStats summarizes one N.
type NStats struct {
	N        int
	Nodes    int
	Halting  int
	Dangling int
	Cycles   int
	Basins   int // basins mapped successfully
	Partial  int // of which partial
	Failed   bool

	CyclesCacheHit bool
	BasinCacheHits int
}

// Stats contains run timing.
type Stats struct {
	Started     time.Time
	DigestTime  time.Duration
	AnalyzeTime time.Duration
	TunnelTime  time.Duration
	Total       time.Duration
}

// Basins counts mapped basins over every N.
func (r *Result) Basins() (total, partial int) {
	for _, s := range r.PerN {
		total += s.Basins
		partial += s.Partial
	}
	return total, partial
}
