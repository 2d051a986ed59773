package trace

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/successor"
)

func TestSample(t *testing.T) {
	idx := scenario(t)
	starts := []linkstore.NodeID{pA, pB, pC, pD, pE, pA}

	s, err := Sample(context.Background(), idx, starts, 0, 3)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.Traces != 6 || s.Cycles != 4 || s.Halts != 2 || s.Truncated != 0 {
		t.Errorf("counts = %+v", s)
	}
	if s.CycleHits["2-3"] != 4 || s.DistinctCycles != 1 {
		t.Errorf("CycleHits = %v", s.CycleHits)
	}
	for i, r := range s.Results {
		if r.Start != starts[i] {
			t.Errorf("Results[%d].Start = %d, want %d", i, r.Start, starts[i])
		}
	}
}

func TestSampleError(t *testing.T) {
	_, err := Sample(context.Background(), scenario(t), []linkstore.NodeID{pA, 404}, 0, 0)
	if err == nil {
		t.Error("Sample with an unknown start should fail")
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Traces != 0 || s.MeanSteps != 0 {
		t.Errorf("Summarize(nil) = %+v", s)
	}
}

// randomIndex builds a closed functional graph over n pages from succ, where
// a negative entry means the page has no links.
func randomIndex(succ []int) (*successor.Index, error) {
	m := make(map[linkstore.NodeID][]linkstore.NodeID, len(succ))
	for i, s := range succ {
		if s < 0 {
			m[linkstore.NodeID(i)] = nil
			continue
		}
		m[linkstore.NodeID(i)] = []linkstore.NodeID{linkstore.NodeID(s % len(succ))}
	}
	return successor.Build(context.Background(), linkstore.FromMap(m), 1, successor.Options{})
}

func TestTraceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	graph := gen.SliceOfN(40, gen.IntRange(-5, 200))

	properties.Property("trace is deterministic", prop.ForAll(
		func(succ []int, start int) bool {
			idx, err := randomIndex(succ)
			if err != nil {
				return false
			}
			id := linkstore.NodeID(start % len(succ))
			a, errA := Trace(idx, id, 0)
			b, errB := Trace(idx, id, 0)
			return errA == nil && errB == nil &&
				a.Terminal == b.Terminal && a.Steps == b.Steps && a.Cycle.Equal(b.Cycle)
		},
		graph, gen.IntRange(0, 1000),
	))

	properties.Property("canonical cycle is rotation invariant", prop.ForAll(
		func(succ []int, start int) bool {
			idx, err := randomIndex(succ)
			if err != nil {
				return false
			}
			res, err := Trace(idx, linkstore.NodeID(start%len(succ)), 0)
			if err != nil {
				return false
			}
			if res.Terminal != TerminalCycle {
				return true
			}
			for _, member := range res.Cycle {
				other, err := Trace(idx, member, 0)
				if err != nil || other.Cycle.Key() != res.Cycle.Key() || other.TransientLength != 0 {
					return false
				}
			}
			return res.Cycle[0] == minOf(res.Cycle)
		},
		graph, gen.IntRange(0, 1000),
	))

	properties.Property("steps are path length for cycles, one less otherwise", prop.ForAll(
		func(succ []int, start int) bool {
			idx, err := randomIndex(succ)
			if err != nil {
				return false
			}
			res, err := Trace(idx, linkstore.NodeID(start%len(succ)), 0)
			if err != nil {
				return false
			}
			if res.Terminal == TerminalCycle {
				return res.Steps == res.PathLength && res.TransientLength+res.CycleLength == res.PathLength
			}
			return res.Steps == res.PathLength-1
		},
		graph, gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func minOf(c Cycle) linkstore.NodeID {
	m := c[0]
	for _, id := range c[1:] {
		m = min(m, id)
	}
	return m
}
