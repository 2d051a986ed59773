package trace

import (
	"fmt"

	"github.com/matzehuels/nlink/pkg/linkstore"
)

// Terminal is the outcome of a trace.
type Terminal int

const (
	TerminalHalt Terminal = iota
	TerminalCycle
	TerminalTruncated
)

func (t Terminal) String() string {
	switch t {
	case TerminalHalt:
		return "halt"
	case TerminalCycle:
		return "cycle"
	case TerminalTruncated:
		return "truncated"
	}
	return fmt.Sprintf("Terminal(%d)", int(t))
}

// Successor is the part of successor.Index a trace needs.
type Successor interface {
	Successor(id linkstore.NodeID) (linkstore.NodeID, bool, error)
}

// Result describes one trace.
type Result struct {
	Start    linkstore.NodeID
	Terminal Terminal

	// Steps counts successful successor transitions. A trace that halts on
	// its start page has zero steps.
	Steps int

	// PathLength is the number of distinct pages visited, start included.
	PathLength int

	// TransientLength is the number of visited pages outside the cycle. For
	// HALT and truncated traces every visited page is transient.
	TransientLength int

	// CycleLength is len(Cycle), zero unless Terminal is TerminalCycle.
	CycleLength int

	// Cycle is the canonical cycle reached.
	Cycle Cycle

	// Path lists the visited pages in order.
	Path []linkstore.NodeID
}

// Trace walks the successor function from start until HALT, a repeated page,
// or maxSteps transitions. maxSteps <= 0 means no cap; the walk still ends
// because the domain is finite.
//
// Trace is deterministic: identical (idx, start, maxSteps) give identical
// results. The only errors come from idx, typically a MissingNodeError for a
// start outside the domain.
func Trace(idx Successor, start linkstore.NodeID, maxSteps int) (Result, error) {
	res := Result{Start: start}
	seen := map[linkstore.NodeID]int{start: 0}
	path := []linkstore.NodeID{start}

	cur := start
	for {
		if maxSteps > 0 && res.Steps >= maxSteps {
			res.Terminal = TerminalTruncated
			break
		}
		next, ok, err := idx.Successor(cur)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			res.Terminal = TerminalHalt
			break
		}
		res.Steps++
		if at, repeat := seen[next]; repeat {
			res.Terminal = TerminalCycle
			res.Cycle = Canonicalize(path[at:])
			res.CycleLength = len(res.Cycle)
			res.TransientLength = at
			break
		}
		seen[next] = len(path)
		path = append(path, next)
		cur = next
	}

	res.Path = path
	res.PathLength = len(path)
	if res.Terminal != TerminalCycle {
		res.TransientLength = len(path)
	}
	return res, nil
}
