package trace

import (
	"context"
	"slices"
	"testing"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/successor"
)

// Pages used across the tests:
//
//	A=1 → B=2 → C=3 → B   (B, C form a 2-cycle, A is transient)
//	D=4                    (no links)
//	E=5 → D
const (
	pA linkstore.NodeID = iota + 1
	pB
	pC
	pD
	pE
)

func scenario(t *testing.T) *successor.Index {
	t.Helper()
	idx, err := successor.Build(context.Background(), linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		pA: {pB},
		pB: {pC},
		pC: {pB},
		pD: {},
		pE: {pD},
	}), 1, successor.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func TestTraceCycle(t *testing.T) {
	res, err := Trace(scenario(t), pA, 0)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}

	if res.Terminal != TerminalCycle {
		t.Fatalf("Terminal = %v, want cycle", res.Terminal)
	}
	if res.Steps != 3 {
		t.Errorf("Steps = %d, want 3", res.Steps)
	}
	if res.TransientLength != 1 {
		t.Errorf("TransientLength = %d, want 1", res.TransientLength)
	}
	if res.PathLength != 3 || res.CycleLength != 2 {
		t.Errorf("PathLength = %d, CycleLength = %d, want 3, 2", res.PathLength, res.CycleLength)
	}
	if !res.Cycle.Equal(Cycle{pB, pC}) {
		t.Errorf("Cycle = %v, want [2 3]", res.Cycle)
	}
	if !slices.Equal(res.Path, []linkstore.NodeID{pA, pB, pC}) {
		t.Errorf("Path = %v", res.Path)
	}
}

func TestTraceHalt(t *testing.T) {
	idx := scenario(t)

	tests := []struct {
		start     linkstore.NodeID
		steps     int
		pathLen   int
		transient int
	}{
		{pD, 0, 1, 1},
		{pE, 1, 2, 2},
	}
	for _, tt := range tests {
		res, err := Trace(idx, tt.start, 0)
		if err != nil {
			t.Fatalf("Trace(%d): %v", tt.start, err)
		}
		if res.Terminal != TerminalHalt {
			t.Errorf("Trace(%d) terminal = %v, want halt", tt.start, res.Terminal)
		}
		if res.Steps != tt.steps || res.PathLength != tt.pathLen || res.TransientLength != tt.transient {
			t.Errorf("Trace(%d) = steps %d, path %d, transient %d; want %d, %d, %d",
				tt.start, res.Steps, res.PathLength, res.TransientLength, tt.steps, tt.pathLen, tt.transient)
		}
		if res.Cycle != nil || res.CycleLength != 0 {
			t.Errorf("Trace(%d) should carry no cycle", tt.start)
		}
	}
}

func TestTraceTruncated(t *testing.T) {
	idx := scenario(t)

	res, err := Trace(idx, pA, 2)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if res.Terminal != TerminalTruncated {
		t.Fatalf("Terminal = %v, want truncated", res.Terminal)
	}
	if res.Steps != 2 || res.PathLength != 3 {
		t.Errorf("Steps = %d, PathLength = %d, want 2, 3", res.Steps, res.PathLength)
	}

	// The cap counts transitions, so the third step still closes the cycle.
	res, _ = Trace(idx, pA, 3)
	if res.Terminal != TerminalCycle {
		t.Errorf("maxSteps=3 terminal = %v, want cycle", res.Terminal)
	}
}

func TestTraceUnknownStart(t *testing.T) {
	_, err := Trace(scenario(t), 99, 0)
	if !nlerrors.Is(err, nlerrors.ErrCodeMissingNode) {
		t.Errorf("error = %v, want MISSING_NODE", err)
	}
}

func TestTraceSelfLoop(t *testing.T) {
	idx, err := successor.Build(context.Background(), linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		7: {7},
	}), 1, successor.Options{})
	if err != nil {
		t.Fatal(err)
	}
	res, _ := Trace(idx, 7, 0)
	if res.Terminal != TerminalCycle || res.Steps != 1 || res.TransientLength != 0 || res.Cycle.Key() != "7" {
		t.Errorf("self loop = %+v", res)
	}
}

func TestTerminalString(t *testing.T) {
	for term, want := range map[Terminal]string{
		TerminalHalt:      "halt",
		TerminalCycle:     "cycle",
		TerminalTruncated: "truncated",
		Terminal(9):       "Terminal(9)",
	} {
		if got := term.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(term), got, want)
		}
	}
}
