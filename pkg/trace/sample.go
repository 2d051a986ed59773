package trace

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/nlink/pkg/linkstore"
)

// SampleSummary aggregates many traces.
type SampleSummary struct {
	Traces    int
	Halts     int
	Cycles    int
	Truncated int

	// CycleHits counts traces per reached cycle key.
	CycleHits map[string]int

	MeanSteps      float64
	MaxSteps       int
	MaxTransient   int
	DistinctCycles int

	// Results holds every trace in the order of the starts slice.
	Results []Result
}

// Sample traces every start concurrently with at most workers goroutines
// (GOMAXPROCS when workers <= 0). The first trace error cancels the rest and
// is returned. Results are identical to tracing the starts one by one.
func Sample(ctx context.Context, idx Successor, starts []linkstore.NodeID, maxSteps, workers int) (SampleSummary, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(starts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, start := range starts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := Trace(idx, start, maxSteps)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SampleSummary{}, err
	}
	return Summarize(results), nil
}

// Summarize aggregates trace results.
func Summarize(results []Result) SampleSummary {
	s := SampleSummary{
		Traces:    len(results),
		CycleHits: make(map[string]int),
		Results:   results,
	}
	totalSteps := 0
	for _, r := range results {
		totalSteps += r.Steps
		s.MaxSteps = max(s.MaxSteps, r.Steps)
		switch r.Terminal {
		case TerminalHalt:
			s.Halts++
		case TerminalCycle:
			s.Cycles++
			s.CycleHits[r.Cycle.Key()]++
			s.MaxTransient = max(s.MaxTransient, r.TransientLength)
		case TerminalTruncated:
			s.Truncated++
		}
	}
	if len(results) > 0 {
		s.MeanSteps = float64(totalSteps) / float64(len(results))
	}
	s.DistinctCycles = len(s.CycleHits)
	return s
}
