// Package basin maps the basin of attraction of a cycle.
//
// The basin of a cycle under one N is every page whose forward iteration
// reaches the cycle. [Map] collects it with a reverse breadth-first search
// over the inverse successor relation, one layer per reverse hop, tagging
// each page with its depth and its entry node: the first non-cycle page on
// its forward path. Entries partition the non-cycle part of a basin into
// branches (see package branch).
//
// Scratch state lives in dense arrays indexed by successor position and is
// pooled between calls, so mapping many small basins of a large index does
// not reallocate per basin.
package basin

import (
	"context"
	"fmt"
	"sync"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/successor"
	"github.com/matzehuels/nlink/pkg/trace"
)

// Graph is the dense view of a successor index the mapper walks.
// *successor.Index implements it.
type Graph interface {
	trace.Successor
	Len() int
	Position(id linkstore.NodeID) (int32, bool)
	ID(p int32) linkstore.NodeID
	Next(p int32) int32
	PredecessorPositions(p int32) []int32
}

// Assignment places one page in a basin.
type Assignment struct {
	Node  linkstore.NodeID `json:"page_id"`
	Entry linkstore.NodeID `json:"entry_id"` // NoNode for cycle members
	Depth uint32           `json:"depth"`
}

// LayerInfo is the size of one BFS layer. Layer 0 is the cycle.
type LayerInfo struct {
	Depth int `json:"depth"`
	Size  int `json:"size"`
}

// StopReason says why a basin map ended before its frontier emptied.
type StopReason int

const (
	StopNone StopReason = iota
	StopDepth
	StopRows
)

func (s StopReason) String() string {
	switch s {
	case StopNone:
		return ""
	case StopDepth:
		return "max_depth"
	case StopRows:
		return "max_rows"
	}
	return fmt.Sprintf("StopReason(%d)", int(s))
}

// Options bounds a basin map. Zero values mean unlimited.
type Options struct {
	MaxDepth int // deepest layer to collect
	MaxRows  int // most assignments to emit, cycle members included
}

// Result is one basin map.
type Result struct {
	Cycle       trace.Cycle
	Assignments []Assignment
	Layers      []LayerInfo

	// Partial is set when a budget stopped the search while pages remained
	// unvisited. Stop names the budget.
	Partial bool
	Stop    StopReason

	TotalNodes int // len(Assignments)
	MaxDepth   int // deepest layer reached
}

// Key returns the cycle key of the basin.
func (r *Result) Key() string { return r.Cycle.Key() }

// Err returns a BudgetExceededError for a partial result and nil otherwise.
func (r *Result) Err() error {
	if !r.Partial {
		return nil
	}
	limit := r.Stop.String()
	value := r.MaxDepth
	if r.Stop == StopRows {
		value = r.TotalNodes
	}
	return &nlerrors.BudgetExceededError{Limit: limit, Value: value}
}

// Map runs a reverse BFS from cycle over g.
//
// The cycle is validated first: an empty cycle, or one that is not closed
// under the successor function, fails with INVALID_CYCLE before any search.
// A cycle without predecessors is a valid basin of just the cycle.
//
// Reaching a page twice, or following an inverse edge that the forward
// relation does not confirm, is a *errors.ConsistencyError and aborts the
// map. Budgets never fail: they produce a Result marked Partial.
func Map(ctx context.Context, g Graph, cycle trace.Cycle, opts Options) (*Result, error) {
	if err := nlerrors.ValidateBudget(opts.MaxDepth, opts.MaxRows); err != nil {
		return nil, err
	}
	if err := trace.Validate(g, cycle); err != nil {
		return nil, err
	}

	s := getScratch(g.Len())
	defer putScratch(s)

	res := &Result{
		Cycle:       cycle,
		Assignments: make([]Assignment, 0, len(cycle)),
	}

	frontier := make([]int32, 0, len(cycle))
	for _, id := range cycle {
		p, _ := g.Position(id)
		s.visit(p, successor.Halt, 0)
		frontier = append(frontier, p)
		res.Assignments = append(res.Assignments, Assignment{Node: id, Entry: linkstore.NoNode})
	}
	res.Layers = append(res.Layers, LayerInfo{Depth: 0, Size: len(cycle)})

	for depth := 1; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.MaxDepth > 0 && depth > opts.MaxDepth {
			if s.hasUnvisitedPredecessor(g, frontier) {
				res.Partial, res.Stop = true, StopDepth
			}
			break
		}

		next, stopped, err := s.expand(g, frontier, uint32(depth), opts.MaxRows, res)
		if err != nil {
			return nil, err
		}
		if len(next) > 0 {
			res.Layers = append(res.Layers, LayerInfo{Depth: depth, Size: len(next)})
			res.MaxDepth = depth
		}
		if stopped {
			res.Partial, res.Stop = true, StopRows
			break
		}
		frontier = next
	}

	res.TotalNodes = len(res.Assignments)
	return res, nil
}

// expand collects the next layer. stopped reports that the row budget ran
// out while predecessors remained.
func (s *scratch) expand(g Graph, frontier []int32, depth uint32, maxRows int, res *Result) (next []int32, stopped bool, err error) {
	for _, u := range frontier {
		uCycle := s.depth[u] == 0
		for _, q := range g.PredecessorPositions(u) {
			if g.Next(q) != u {
				return nil, false, &nlerrors.ConsistencyError{
					Node:       int64(g.ID(q)),
					Via:        int64(g.ID(u)),
					PriorEntry: s.entryID(g, q),
					Reason:     "inverse edge not confirmed by successor",
				}
			}
			if s.visited[q] {
				if uCycle && s.depth[q] == 0 {
					continue // the cycle's own edge
				}
				return nil, false, &nlerrors.ConsistencyError{
					Node:       int64(g.ID(q)),
					Via:        int64(g.ID(u)),
					PriorEntry: s.entryID(g, q),
					Reason:     fmt.Sprintf("node already visited at depth %d", s.depth[q]),
				}
			}
			if maxRows > 0 && len(res.Assignments) >= maxRows {
				return next, true, nil
			}

			entry := s.entry[u]
			if uCycle {
				entry = q
			}
			s.visit(q, entry, depth)
			next = append(next, q)
			res.Assignments = append(res.Assignments, Assignment{
				Node:  g.ID(q),
				Entry: g.ID(entry),
				Depth: depth,
			})
		}
	}
	return next, false, nil
}

// hasUnvisitedPredecessor reports whether another layer exists beyond
// frontier.
func (s *scratch) hasUnvisitedPredecessor(g Graph, frontier []int32) bool {
	for _, u := range frontier {
		for _, q := range g.PredecessorPositions(u) {
			if !s.visited[q] {
				return true
			}
		}
	}
	return false
}

func (s *scratch) entryID(g Graph, p int32) int64 {
	if !s.visited[p] || s.entry[p] == successor.Halt {
		return int64(linkstore.NoNode)
	}
	return int64(g.ID(s.entry[p]))
}

// =============================================================================
// Scratch arena
// =============================================================================

// scratch holds per-position BFS state. Only positions listed in touched are
// dirty, so reset is proportional to the basin, not the index.
type scratch struct {
	visited []bool
	depth   []uint32
	entry   []int32
	touched []int32
}

var scratchPool sync.Pool

func getScratch(n int) *scratch {
	if s, ok := scratchPool.Get().(*scratch); ok && len(s.visited) >= n {
		return s
	}
	return &scratch{
		visited: make([]bool, n),
		depth:   make([]uint32, n),
		entry:   make([]int32, n),
	}
}

func putScratch(s *scratch) {
	for _, p := range s.touched {
		s.visited[p] = false
		s.depth[p] = 0
		s.entry[p] = 0
	}
	s.touched = s.touched[:0]
	scratchPool.Put(s)
}

func (s *scratch) visit(p, entry int32, depth uint32) {
	s.visited[p] = true
	s.entry[p] = entry
	s.depth[p] = depth
	s.touched = append(s.touched, p)
}
