package basin

import (
	"context"
	"errors"
	"testing"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/successor"
	"github.com/matzehuels/nlink/pkg/trace"
)

func index(t *testing.T, m map[linkstore.NodeID][]linkstore.NodeID) *successor.Index {
	t.Helper()
	idx, err := successor.Build(context.Background(), linkstore.FromMap(m), 1, successor.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func byNode(res *Result) map[linkstore.NodeID]Assignment {
	out := make(map[linkstore.NodeID]Assignment, len(res.Assignments))
	for _, a := range res.Assignments {
		out[a.Node] = a
	}
	return out
}

func TestMapScenario(t *testing.T) {
	// A=1 → B=2 → C=3 → B
	idx := index(t, map[linkstore.NodeID][]linkstore.NodeID{1: {2}, 2: {3}, 3: {2}})

	res, err := Map(context.Background(), idx, trace.Cycle{2, 3}, Options{})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	got := byNode(res)
	want := map[linkstore.NodeID]Assignment{
		1: {Node: 1, Entry: 1, Depth: 1},
		2: {Node: 2, Entry: linkstore.NoNode, Depth: 0},
		3: {Node: 3, Entry: linkstore.NoNode, Depth: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("assignments = %v", res.Assignments)
	}
	for id, w := range want {
		if got[id] != w {
			t.Errorf("assignment[%d] = %+v, want %+v", id, got[id], w)
		}
	}
	if res.Partial || res.Stop != StopNone || res.Err() != nil {
		t.Errorf("complete map marked partial: %+v", res)
	}
	if res.TotalNodes != 3 || res.MaxDepth != 1 {
		t.Errorf("TotalNodes = %d, MaxDepth = %d", res.TotalNodes, res.MaxDepth)
	}
	if len(res.Layers) != 2 || res.Layers[0] != (LayerInfo{0, 2}) || res.Layers[1] != (LayerInfo{1, 1}) {
		t.Errorf("Layers = %v", res.Layers)
	}
}

// tree feeds a 2-cycle {1,2} with two branches:
//
//	10 ← 11 ← 12, 10 ← 13      (branch entered at 10, enters 1)
//	20 ← 21                    (branch entered at 20, enters 2)
//
// and one unrelated halting page 99.
func tree(t *testing.T) *successor.Index {
	return index(t, map[linkstore.NodeID][]linkstore.NodeID{
		1: {2}, 2: {1},
		10: {1}, 11: {10}, 12: {11}, 13: {10},
		20: {2}, 21: {20},
		99: {},
	})
}

func TestMapEntryPropagation(t *testing.T) {
	res, err := Map(context.Background(), tree(t), trace.Cycle{1, 2}, Options{})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	got := byNode(res)

	wantEntry := map[linkstore.NodeID]linkstore.NodeID{
		10: 10, 11: 10, 12: 10, 13: 10,
		20: 20, 21: 20,
	}
	wantDepth := map[linkstore.NodeID]uint32{10: 1, 11: 2, 12: 3, 13: 2, 20: 1, 21: 2}
	for id, e := range wantEntry {
		a, ok := got[id]
		if !ok {
			t.Errorf("page %d missing from basin", id)
			continue
		}
		if a.Entry != e || a.Depth != wantDepth[id] {
			t.Errorf("page %d = entry %d depth %d, want entry %d depth %d", id, a.Entry, a.Depth, e, wantDepth[id])
		}
	}
	if _, ok := got[99]; ok {
		t.Error("halting page must not join the basin")
	}
	if res.TotalNodes != 8 || res.MaxDepth != 3 {
		t.Errorf("TotalNodes = %d, MaxDepth = %d", res.TotalNodes, res.MaxDepth)
	}
}

func TestMapDepthBudget(t *testing.T) {
	idx := tree(t)

	tests := []struct {
		maxDepth int
		nodes    int
		partial  bool
	}{
		{1, 4, true},
		{2, 7, true},
		{3, 8, false}, // nothing beyond depth 3
		{10, 8, false},
	}
	for _, tt := range tests {
		res, err := Map(context.Background(), idx, trace.Cycle{1, 2}, Options{MaxDepth: tt.maxDepth})
		if err != nil {
			t.Fatalf("Map(max_depth=%d): %v", tt.maxDepth, err)
		}
		if res.TotalNodes != tt.nodes || res.Partial != tt.partial {
			t.Errorf("max_depth=%d: nodes %d partial %v, want %d %v",
				tt.maxDepth, res.TotalNodes, res.Partial, tt.nodes, tt.partial)
		}
		if tt.partial && res.Stop != StopDepth {
			t.Errorf("max_depth=%d: Stop = %v", tt.maxDepth, res.Stop)
		}
	}
}

func TestMapRowBudget(t *testing.T) {
	res, err := Map(context.Background(), tree(t), trace.Cycle{1, 2}, Options{MaxRows: 5})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if !res.Partial || res.Stop != StopRows || res.TotalNodes != 5 {
		t.Fatalf("result = partial %v stop %v nodes %d", res.Partial, res.Stop, res.TotalNodes)
	}

	var be *nlerrors.BudgetExceededError
	if err := res.Err(); !errors.As(err, &be) || be.Limit != "max_rows" || be.Value != 5 {
		t.Errorf("Err() = %v", res.Err())
	}
	if !nlerrors.Is(res.Err(), nlerrors.ErrCodeBudgetExceeded) {
		t.Error("Err() should carry BUDGET_EXCEEDED")
	}

	// A budget that exactly fits the basin is not partial.
	res, _ = Map(context.Background(), tree(t), trace.Cycle{1, 2}, Options{MaxRows: 8})
	if res.Partial {
		t.Error("exact row budget should not mark the map partial")
	}
}

func TestMapUnreachableCycle(t *testing.T) {
	idx := index(t, map[linkstore.NodeID][]linkstore.NodeID{5: {5}, 6: {}})
	res, err := Map(context.Background(), idx, trace.Cycle{5}, Options{})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if res.TotalNodes != 1 || res.Partial || len(res.Layers) != 1 {
		t.Errorf("unreachable cycle = %+v", res)
	}
}

func TestMapValidation(t *testing.T) {
	idx := tree(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		cycle trace.Cycle
		opts  Options
		code  nlerrors.Code
	}{
		{"empty cycle", nil, Options{}, nlerrors.ErrCodeInvalidCycle},
		{"open cycle", trace.Cycle{10, 1}, Options{}, nlerrors.ErrCodeInvalidCycle},
		{"unknown member", trace.Cycle{404}, Options{}, nlerrors.ErrCodeMissingNode},
		{"negative depth", trace.Cycle{1, 2}, Options{MaxDepth: -1}, nlerrors.ErrCodeInvalidInput},
		{"negative rows", trace.Cycle{1, 2}, Options{MaxRows: -1}, nlerrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Map(ctx, idx, tt.cycle, tt.opts)
			if !nlerrors.Is(err, tt.code) {
				t.Errorf("Map error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestMapCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Map(ctx, tree(t), trace.Cycle{1, 2}, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// corrupt wraps an index and lies about its inverse relation.
type corrupt struct {
	*successor.Index
	extra map[int32][]int32
}

func (c corrupt) PredecessorPositions(p int32) []int32 {
	return append(append([]int32(nil), c.Index.PredecessorPositions(p)...), c.extra[p]...)
}

func TestMapConsistencyErrors(t *testing.T) {
	idx := tree(t)
	pos := func(id linkstore.NodeID) int32 {
		p, _ := idx.Position(id)
		return p
	}

	tests := []struct {
		name  string
		extra map[int32][]int32
		node  int64
	}{
		{
			// 11 listed twice under 10: reached twice.
			name:  "revisit",
			extra: map[int32][]int32{pos(10): {pos(11)}},
			node:  11,
		},
		{
			// 99 halts, so it cannot be a predecessor of anything.
			name:  "unconfirmed edge",
			extra: map[int32][]int32{pos(20): {pos(99)}},
			node:  99,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Map(context.Background(), corrupt{idx, tt.extra}, trace.Cycle{1, 2}, Options{})
			var ce *nlerrors.ConsistencyError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want ConsistencyError", err)
			}
			if ce.Node != tt.node {
				t.Errorf("ConsistencyError.Node = %d, want %d", ce.Node, tt.node)
			}
			if !nlerrors.Is(err, nlerrors.ErrCodeDataConsistency) {
				t.Error("error should carry DATA_CONSISTENCY")
			}
		})
	}
}

func TestMapReusesScratch(t *testing.T) {
	idx := tree(t)
	for i := 0; i < 3; i++ {
		a, err := Map(context.Background(), idx, trace.Cycle{1, 2}, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if a.TotalNodes != 8 {
			t.Fatalf("run %d: TotalNodes = %d, scratch leaked state", i, a.TotalNodes)
		}
	}
}

func TestStopReasonString(t *testing.T) {
	if StopNone.String() != "" || StopDepth.String() != "max_depth" || StopRows.String() != "max_rows" {
		t.Error("unexpected StopReason strings")
	}
}
