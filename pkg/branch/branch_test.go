package branch

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/successor"
	"github.com/matzehuels/nlink/pkg/trace"
)

const none = linkstore.NoNode

func TestAnalyze(t *testing.T) {
	assignments := []basin.Assignment{
		{Node: 1, Entry: none},
		{Node: 2, Entry: none},
		{Node: 20, Entry: 20, Depth: 1},
		{Node: 10, Entry: 10, Depth: 1},
		{Node: 11, Entry: 10, Depth: 2},
		{Node: 12, Entry: 10, Depth: 3},
		{Node: 21, Entry: 20, Depth: 2},
		{Node: 30, Entry: 30, Depth: 1},
		{Node: 31, Entry: 30, Depth: 2},
	}

	res := Analyze(assignments, 2)

	want := []Branch{
		{Entry: 10, Size: 3, MaxDepth: 3},
		{Entry: 20, Size: 2, MaxDepth: 2},
		{Entry: 30, Size: 2, MaxDepth: 2},
	}
	if len(res.Branches) != len(want) {
		t.Fatalf("Branches = %v", res.Branches)
	}
	for i := range want {
		if res.Branches[i] != want[i] {
			t.Errorf("Branches[%d] = %+v, want %+v", i, res.Branches[i], want[i])
		}
	}
	if len(res.TopK) != 2 || res.TopK[1].Entry != 20 {
		t.Errorf("TopK = %v", res.TopK)
	}
	if res.CycleLength != 2 || res.BasinSize != 9 {
		t.Errorf("CycleLength = %d, BasinSize = %d", res.CycleLength, res.BasinSize)
	}
	if err := res.CheckPartition(); err != nil {
		t.Errorf("CheckPartition: %v", err)
	}
	if d, ok := res.Dominant(); !ok || d.Entry != 10 {
		t.Errorf("Dominant = %v, %v", d, ok)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	res := Analyze(nil, 0)
	if len(res.Branches) != 0 || len(res.TopK) != 0 || res.BasinSize != 0 {
		t.Errorf("Analyze(nil) = %+v", res)
	}
	if _, ok := res.Dominant(); ok {
		t.Error("no dominant branch expected")
	}
	if err := res.CheckPartition(); err != nil {
		t.Errorf("CheckPartition: %v", err)
	}
}

func TestCheckPartitionMismatch(t *testing.T) {
	res := &Result{Branches: []Branch{{Entry: 1, Size: 2}}, CycleLength: 1, BasinSize: 4}
	if err := res.CheckPartition(); err == nil {
		t.Error("expected partition error")
	}
}

// The partition law holds for every basin of a random functional graph:
// branch sizes plus the cycle length equal the basin size, and no page is
// counted in two branches.
func TestPartitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("branches partition the basin", prop.ForAll(
		func(succ []int) bool {
			m := make(map[linkstore.NodeID][]linkstore.NodeID, len(succ))
			for i, s := range succ {
				if s >= 0 {
					m[linkstore.NodeID(i)] = []linkstore.NodeID{linkstore.NodeID(s % len(succ))}
				} else {
					m[linkstore.NodeID(i)] = nil
				}
			}
			ctx := context.Background()
			idx, err := successor.Build(ctx, linkstore.FromMap(m), 1, successor.Options{})
			if err != nil {
				return false
			}
			cycles, err := trace.DiscoverCycles(ctx, idx)
			if err != nil {
				return false
			}
			covered := make(map[linkstore.NodeID]bool)
			for _, c := range cycles {
				b, err := basin.Map(ctx, idx, c, basin.Options{})
				if err != nil {
					return false
				}
				res := Analyze(b.Assignments, 0)
				if res.CheckPartition() != nil || res.CycleLength != len(c) || res.BasinSize != b.TotalNodes {
					return false
				}
				for _, a := range b.Assignments {
					if covered[a.Node] {
						return false // basins must be disjoint too
					}
					covered[a.Node] = true
				}
			}
			return true
		},
		gen.SliceOfN(60, gen.IntRange(-10, 500)),
	))

	properties.TestingRun(t)
}
