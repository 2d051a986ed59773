package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/branch"
	"github.com/matzehuels/nlink/pkg/buildinfo"
	"github.com/matzehuels/nlink/pkg/cache"
	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/observability"
	"github.com/matzehuels/nlink/pkg/successor"
	"github.com/matzehuels/nlink/pkg/tables"
	"github.com/matzehuels/nlink/pkg/trace"
	"github.com/matzehuels/nlink/pkg/trunk"
	"github.com/matzehuels/nlink/pkg/tunnel"
)

// Cache key types reported to the cache hooks.
const (
	keyTypeCycles = "cycles"
	keyTypeBasin  = "basin"
)

// Runner executes analyses with caching.
//
// The Runner is stateless except for the cache and logger; it doesn't store
// results. Multiple goroutines can safely use the same Runner.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
// If logger is nil, log output is discarded.
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Logger: logger,
	}
}

// Caching reports whether the runner has a real cache. Without one there
// is no point computing the store digest.
func (r *Runner) Caching() bool {
	_, null := r.Cache.(*cache.NullCache)
	return !null
}

// Digest returns the store digest used in cache keys, or "" when caching
// is disabled.
func (r *Runner) Digest(ctx context.Context, store linkstore.Store) (string, error) {
	if !r.Caching() {
		return "", nil
	}
	start := time.Now()
	d, err := linkstore.Digest(ctx, store)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", nlerrors.Wrap(nlerrors.ErrCodeStoreIO, err, "digest link store")
	}
	r.Logger.Debug("computed store digest", "digest", d[:12], "duration", time.Since(start))
	return d, nil
}

// BuildIndex builds the successor index of n.
func (r *Runner) BuildIndex(ctx context.Context, store linkstore.Store, n int, opts successor.Options) (*successor.Index, error) {
	hooks := observability.Pipeline()
	hooks.OnIndexStart(ctx, n)
	start := time.Now()

	idx, err := successor.Build(ctx, store, n, opts)
	d := time.Since(start)
	if err != nil {
		hooks.OnIndexComplete(ctx, n, 0, d, err)
		return nil, err
	}
	hooks.OnIndexComplete(ctx, n, idx.Len(), d, nil)

	st := idx.Stats()
	r.Logger.Info("built successor index",
		"n", n,
		"nodes", st.Nodes,
		"halting", st.Halting,
		"dangling", st.Dangling,
		"duration", d)
	return idx, nil
}

// CyclesWithCacheInfo discovers the cycles of idx with caching and returns
// cache hit info. An empty digest disables the cache.
func (r *Runner) CyclesWithCacheInfo(ctx context.Context, idx *successor.Index, digest string, opts Options) ([]trace.Cycle, bool, error) {
	key := r.Keyer.CyclesKey(digest, idx.N(), opts.CyclesKeyOpts())

	if digest != "" && !opts.Refresh {
		if cycles, ok := r.cachedCycles(ctx, key, idx); ok {
			observability.Cache().OnCacheHit(ctx, keyTypeCycles)
			return cycles, true, nil
		}
		observability.Cache().OnCacheMiss(ctx, keyTypeCycles)
	}

	start := time.Now()
	cycles, err := trace.DiscoverCycles(ctx, idx)
	if err != nil {
		return nil, false, err
	}
	d := time.Since(start)
	observability.Pipeline().OnCyclesDiscovered(ctx, idx.N(), len(cycles), d)
	r.Logger.Info("discovered cycles", "n", idx.N(), "cycles", len(cycles), "duration", d)

	if digest != "" {
		if data, err := encodeCycles(cycles); err == nil {
			r.store(ctx, keyTypeCycles, key, data, cache.CyclesTTL)
		}
	}
	return cycles, false, nil
}

// cachedCycles reads a cycle list and checks it still fits idx.
func (r *Runner) cachedCycles(ctx context.Context, key string, idx *successor.Index) ([]trace.Cycle, bool) {
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil || !hit {
		return nil, false
	}
	cycles, err := decodeCycles(data)
	if err != nil {
		r.Logger.Warn("discarding cached cycles", "n", idx.N(), "err", err)
		return nil, false
	}
	for _, c := range cycles {
		if err := trace.Validate(idx, c); err != nil {
			r.Logger.Warn("discarding cached cycles", "n", idx.N(), "err", err)
			return nil, false
		}
	}
	return cycles, true
}

// Cycles is a convenience wrapper that calls CyclesWithCacheInfo and
// discards the cache hit info.
func (r *Runner) Cycles(ctx context.Context, idx *successor.Index, digest string, opts Options) ([]trace.Cycle, error) {
	cycles, _, err := r.CyclesWithCacheInfo(ctx, idx, digest, opts)
	return cycles, err
}

// BasinWithCacheInfo maps the basin of cycle with caching and returns cache
// hit info. An empty digest disables the cache.
func (r *Runner) BasinWithCacheInfo(ctx context.Context, idx *successor.Index, digest string, cycle trace.Cycle, opts Options) (*basin.Result, bool, error) {
	n, ckey := idx.N(), cycle.Key()
	hooks := observability.Pipeline()
	hooks.OnBasinStart(ctx, n, ckey)
	start := time.Now()

	key := r.Keyer.BasinKey(digest, n, ckey, opts.BasinKeyOpts())
	if digest != "" && !opts.Refresh {
		if data, hit, err := r.Cache.Get(ctx, key); err == nil && hit {
			if res, err := decodeBasin(data); err == nil && res.Cycle.Equal(cycle) {
				observability.Cache().OnCacheHit(ctx, keyTypeBasin)
				hooks.OnBasinComplete(ctx, n, ckey, res.TotalNodes, res.Partial, time.Since(start), nil)
				return res, true, nil
			}
			// fall through to recompute
		}
		observability.Cache().OnCacheMiss(ctx, keyTypeBasin)
	}

	res, err := basin.Map(ctx, idx, cycle, opts.BasinOptions())
	if err != nil {
		hooks.OnBasinComplete(ctx, n, ckey, 0, false, time.Since(start), err)
		return nil, false, err
	}
	hooks.OnBasinComplete(ctx, n, ckey, res.TotalNodes, res.Partial, time.Since(start), nil)

	if digest != "" {
		if data, err := encodeBasin(res); err == nil {
			r.store(ctx, keyTypeBasin, key, data, cache.BasinTTL)
		}
	}
	return res, false, nil
}

// Basin is a convenience wrapper that calls BasinWithCacheInfo and discards
// the cache hit info.
func (r *Runner) Basin(ctx context.Context, idx *successor.Index, digest string, cycle trace.Cycle, opts Options) (*basin.Result, error) {
	res, _, err := r.BasinWithCacheInfo(ctx, idx, digest, cycle, opts)
	return res, err
}

// store writes to the cache. Cache failures never fail an analysis.
func (r *Runner) store(ctx context.Context, keyType, key string, data []byte, ttl time.Duration) {
	if err := r.Cache.Set(ctx, key, data, ttl); err != nil {
		r.Logger.Warn("cache write failed", "type", keyType, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

// Execute runs the analysis for every N in opts and writes the output tables
// to sink, which may be nil. The sink is not closed.
//
// A nil Result means the run failed as a whole. Otherwise the returned error,
// if any, aggregates the failed jobs, which are also listed in Result.Errors.
func (r *Runner) Execute(ctx context.Context, store linkstore.Store, sink tables.Sink, opts Options) (*Result, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	ns := slices.Sorted(slices.Values(opts.Ns))
	ns = slices.Compact(ns)

	res := &Result{
		RunID: uuid.NewString(),
		Stats: Stats{Started: time.Now()},
	}
	r.Logger.Info("starting run", "run", res.RunID, "ns", ns, "pages", store.Len())

	digest, err := r.Digest(ctx, store)
	if err != nil {
		return nil, err
	}
	res.StoreDigest = digest
	res.Stats.DigestTime = time.Since(res.Stats.Started)

	var set *tables.Set
	if sink != nil {
		set = tables.Open(ctx, sink, tables.Options{Logger: r.Logger})
	}

	mapped := make(chan mappedBasin, 64)
	matrix := tunnel.NewMatrix(ns)
	matrixDone := make(chan error, 1)
	go func() {
		var err error
		for m := range mapped {
			switch {
			case err != nil:
			case m.failed:
				err = matrix.MarkFailed(m.n)
			default:
				err = matrix.Add(m.n, m.key, m.assignments, m.partial)
			}
		}
		matrixDone <- err
	}()

	x := &execution{
		r:      r,
		store:  store,
		digest: digest,
		opts:   opts,
		set:    set,
		mapped: mapped,
	}

	analyzeStart := time.Now()
	res.PerN = make([]NStats, len(ns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, n := range ns {
		g.Go(func() error {
			st, err := x.analyzeN(gctx, n)
			res.PerN[i] = st
			return err
		})
	}
	err = g.Wait()
	close(mapped)
	matrixErr := <-matrixDone
	if err == nil {
		err = matrixErr
	}
	if err != nil {
		if set != nil {
			_, _ = set.Close()
		}
		return nil, err
	}
	res.Stats.AnalyzeTime = time.Since(analyzeStart)

	tunnelStart := time.Now()
	records := matrix.Records()
	res.Tunnels = tunnel.Summarize(records)
	if set != nil {
		if err := set.Table(tables.Tunnels).Write(ctx, tables.TunnelRows(records, ns)...); err != nil {
			_, _ = set.Close()
			return nil, err
		}
	}
	res.Stats.TunnelTime = time.Since(tunnelStart)
	observability.Pipeline().OnTunnelsComplete(ctx, res.Tunnels.Pages, res.Tunnels.Tunnels, res.Stats.TunnelTime)
	r.Logger.Info("classified tunnels",
		"pages", res.Tunnels.Pages,
		"tunnels", res.Tunnels.Tunnels,
		"duration", res.Stats.TunnelTime)

	res.Trunkiness = x.rows
	slices.SortFunc(res.Trunkiness, func(a, b trunk.Row) int {
		return cmp.Or(cmp.Compare(a.N, b.N), cmp.Compare(a.CycleKey, b.CycleKey))
	})
	res.Errors = x.jobErrs
	slices.SortFunc(res.Errors, func(a, b tables.JobError) int {
		return cmp.Or(cmp.Compare(a.N, b.N), cmp.Compare(a.CycleKey, b.CycleKey))
	})

	if set != nil {
		counts, err := set.Close()
		if err != nil {
			return nil, err
		}
		res.Rows = counts
	}
	res.Stats.Total = time.Since(res.Stats.Started)

	if sink != nil {
		if err := sink.WriteManifest(ctx, res.Manifest(opts)); err != nil {
			return nil, fmt.Errorf("write manifest: %w", err)
		}
	}

	total, partial := res.Basins()
	r.Logger.Info("run complete",
		"run", res.RunID,
		"basins", total,
		"partial", partial,
		"failed", len(res.Errors),
		"duration", res.Stats.Total)
	return res, x.errs.ErrorOrNil()
}

// Manifest builds the run manifest.
func (r *Result) Manifest(opts Options) tables.Manifest {
	total, partial := r.Basins()
	ns := make([]int, len(r.PerN))
	for i, s := range r.PerN {
		ns[i] = s.N
	}
	return tables.Manifest{
		RunID:      r.RunID,
		Version:    buildinfo.Version,
		StartedAt:  r.Stats.Started.UTC(),
		FinishedAt: r.Stats.Started.Add(r.Stats.Total).UTC(),
		Ns:         ns,
		Options:    opts.manifestOptions(),
		Rows:       r.Rows,
		Basins:     total,
		Partial:    partial,
		Errors:     r.Errors,
	}
}

// mappedBasin carries one basin map to the tunnel matrix. A failed entry
// has no assignments and marks its N as incomplete.
type mappedBasin struct {
	n           int
	key         string
	assignments []basin.Assignment
	partial     bool
	failed      bool
}

// execution is the mutable state of one Execute call.
type execution struct {
	r      *Runner
	store  linkstore.Store
	digest string
	opts   Options
	set    *tables.Set
	mapped chan<- mappedBasin

	mu      sync.Mutex
	rows    []trunk.Row
	errs    *multierror.Error
	jobErrs []tables.JobError
}

// jobError reports whether err fails only its own job.
func jobError(err error) bool {
	switch nlerrors.GetCode(err) {
	case nlerrors.ErrCodeMissingNode, nlerrors.ErrCodeDataConsistency, nlerrors.ErrCodeInvalidCycle:
		return true
	}
	return false
}

// fail records a failed job and tells the tunnel matrix that n is
// incomplete.
func (x *execution) fail(ctx context.Context, n int, cycleKey string, err error) error {
	kv := []any{"n", n, "err", err}
	if cycleKey != "" {
		kv = append(kv, "cycle", cycleKey)
	}
	var ce *nlerrors.ConsistencyError
	if errors.As(err, &ce) {
		kv = append(kv, "node", ce.Node, "via", ce.Via, "prior_entry", ce.PriorEntry)
	}
	x.r.Logger.Error("job failed", kv...)

	x.mu.Lock()
	job := fmt.Sprintf("n=%d", n)
	if cycleKey != "" {
		job += " cycle=" + cycleKey
	}
	x.errs = multierror.Append(x.errs, fmt.Errorf("%s: %w", job, err))
	x.jobErrs = append(x.jobErrs, tables.JobError{
		N:        n,
		CycleKey: cycleKey,
		Code:     string(nlerrors.GetCode(err)),
		Message:  err.Error(),
	})
	x.mu.Unlock()

	select {
	case x.mapped <- mappedBasin{n: n, key: cycleKey, failed: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *execution) analyzeN(ctx context.Context, n int) (NStats, error) {
	st := NStats{N: n}
	idx, err := x.r.BuildIndex(ctx, x.store, n, x.opts.IndexOptions())
	if err != nil {
		if jobError(err) {
			st.Failed = true
			return st, x.fail(ctx, n, "", err)
		}
		return st, err
	}
	ist := idx.Stats()
	st.Nodes, st.Halting, st.Dangling = ist.Nodes, ist.Halting, ist.Dangling

	cycles, hit, err := x.r.CyclesWithCacheInfo(ctx, idx, x.digest, x.opts)
	if err != nil {
		return st, err
	}
	st.Cycles, st.CyclesCacheHit = len(cycles), hit

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.BasinWorkers)
	for _, c := range cycles {
		g.Go(func() error {
			res, hit, err := x.r.BasinWithCacheInfo(gctx, idx, x.digest, c, x.opts)
			if err == nil {
				err = x.emit(gctx, n, res)
			}
			if err != nil {
				if jobError(err) {
					return x.fail(gctx, n, c.Key(), err)
				}
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			st.Basins++
			if res.Partial {
				st.Partial++
			}
			if hit {
				st.BasinCacheHits++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}
	x.r.Logger.Info("mapped basins",
		"n", n,
		"basins", st.Basins,
		"partial", st.Partial,
		"cache_hits", st.BasinCacheHits)
	return st, nil
}

// emit derives branches and trunkiness from one basin map and hands the
// rows to the table writers and the tunnel matrix.
func (x *execution) emit(ctx context.Context, n int, res *basin.Result) error {
	br := branch.Analyze(res.Assignments, x.opts.TopK)
	if err := br.CheckPartition(); err != nil {
		return err
	}
	row := trunk.BuildRow(n, res, br)
	key := res.Key()
	if res.Partial {
		x.r.Logger.Warn("basin map stopped early",
			"n", n,
			"cycle", key,
			"stop", res.Stop,
			"nodes", res.TotalNodes)
	}

	if x.set != nil {
		writes := []struct {
			table string
			rows  []any
		}{
			{tables.Assignments, tables.AssignmentRows(n, res)},
			{tables.Branches, tables.BranchRows(n, key, br.Branches)},
			{tables.BranchesTopK, tables.BranchRows(n, key, br.TopK)},
			{tables.Trunkiness, []any{row}},
		}
		for _, w := range writes {
			if err := x.set.Table(w.table).Write(ctx, w.rows...); err != nil {
				return err
			}
		}
	}

	x.mu.Lock()
	x.rows = append(x.rows, row)
	x.mu.Unlock()

	select {
	case x.mapped <- mappedBasin{n: n, key: key, assignments: res.Assignments, partial: res.Partial}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
