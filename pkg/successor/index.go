// Package successor builds the N-link successor function over a link store.
//
// For a fixed N, the successor of page p is the Nth entry of p's link
// sequence, or HALT when the sequence is shorter than N. An [Index] holds
// that function for every page of the store in a dense arena: pages are
// numbered 0..Len()-1 in ascending id order and the successor of each
// position is a single int32. The inverse relation, needed by reverse BFS,
// is built lazily in compressed sparse row form.
//
// An Index is immutable once built and safe for concurrent readers. It never
// detects cycles; that is the job of package trace.
package successor

import (
	"context"
	"fmt"
	"math"
	"sync"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
)

// Halt is the dense position used for "no successor".
const Halt int32 = -1

// Options configures [Build].
type Options struct {
	// DanglingAsHalt treats a link to a page absent from the store as HALT
	// instead of failing with a MissingNodeError. Such links are counted in
	// Stats.Dangling.
	DanglingAsHalt bool
}

// Stats describes a built index.
type Stats struct {
	Nodes    int // Pages in the domain
	Halting  int // Pages whose sequence is shorter than N
	Dangling int // Nth links to absent pages, only with DanglingAsHalt
}

// Index is the successor function for one N.
type Index struct {
	n     int
	ids   []linkstore.NodeID // position -> id, ascending
	pos   map[linkstore.NodeID]int32
	next  []int32 // position -> successor position, Halt for none
	stats Stats

	predOnce sync.Once
	predOff  []int32 // CSR offsets, len(ids)+1
	predPos  []int32 // CSR values, predecessor positions
}

// Build reads every link sequence of store and selects the Nth link.
//
// Build fails with INVALID_INPUT for n < 1, with a MissingNodeError when a
// selected link targets a page that is not in the store (unless
// opts.DanglingAsHalt is set), and with STORE_IO when the store scan fails.
func Build(ctx context.Context, store linkstore.Store, n int, opts Options) (*Index, error) {
	if err := nlerrors.ValidateN(n); err != nil {
		return nil, err
	}
	if store.Len() > math.MaxInt32 {
		return nil, nlerrors.New(nlerrors.ErrCodeUnsupported,
			"store has %d pages, more than a dense index can address", store.Len())
	}

	idx := &Index{
		n:    n,
		ids:  make([]linkstore.NodeID, 0, store.Len()),
		pos:  make(map[linkstore.NodeID]int32, store.Len()),
		next: make([]int32, 0, store.Len()),
	}

	// First pass records ids and raw targets; targets are resolved to
	// positions once the whole domain is known.
	targets := make([]linkstore.NodeID, 0, store.Len())
	err := store.Scan(ctx, func(id linkstore.NodeID, links []linkstore.NodeID) error {
		idx.pos[id] = int32(len(idx.ids))
		idx.ids = append(idx.ids, id)
		if len(links) >= n {
			targets = append(targets, links[n-1])
		} else {
			targets = append(targets, linkstore.NoNode)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, nlerrors.Wrap(nlerrors.ErrCodeStoreIO, err, "scan link store for n=%d", n)
	}

	for i, t := range targets {
		if t == linkstore.NoNode {
			idx.next = append(idx.next, Halt)
			idx.stats.Halting++
			continue
		}
		p, ok := idx.pos[t]
		if !ok {
			if !opts.DanglingAsHalt {
				return nil, &nlerrors.MissingNodeError{Node: int64(t), From: int64(idx.ids[i])}
			}
			idx.next = append(idx.next, Halt)
			idx.stats.Halting++
			idx.stats.Dangling++
			continue
		}
		idx.next = append(idx.next, p)
	}
	idx.stats.Nodes = len(idx.ids)
	return idx, nil
}

// N returns the link position this index selects.
func (x *Index) N() int { return x.n }

// Len returns the number of pages in the domain.
func (x *Index) Len() int { return len(x.ids) }

// Stats returns build statistics.
func (x *Index) Stats() Stats { return x.stats }

// Nodes returns every page id in ascending order. The slice is shared and
// must not be modified.
func (x *Index) Nodes() []linkstore.NodeID { return x.ids }

// Successor returns the successor of id. ok is false when id halts.
// An id outside the domain is a MissingNodeError.
func (x *Index) Successor(id linkstore.NodeID) (next linkstore.NodeID, ok bool, err error) {
	p, found := x.pos[id]
	if !found {
		return linkstore.NoNode, false, &nlerrors.MissingNodeError{Node: int64(id), From: -1}
	}
	np := x.next[p]
	if np == Halt {
		return linkstore.NoNode, false, nil
	}
	return x.ids[np], true, nil
}

// Position returns the dense position of id.
func (x *Index) Position(id linkstore.NodeID) (int32, bool) {
	p, ok := x.pos[id]
	return p, ok
}

// ID returns the page id at dense position p.
func (x *Index) ID(p int32) linkstore.NodeID { return x.ids[p] }

// Next returns the successor position of p, or Halt.
func (x *Index) Next(p int32) int32 { return x.next[p] }

// Predecessors returns every page whose successor is id, in ascending id
// order. The inverse relation is built on first use.
func (x *Index) Predecessors(id linkstore.NodeID) ([]linkstore.NodeID, error) {
	p, ok := x.pos[id]
	if !ok {
		return nil, &nlerrors.MissingNodeError{Node: int64(id), From: -1}
	}
	pp := x.PredecessorPositions(p)
	out := make([]linkstore.NodeID, len(pp))
	for i, q := range pp {
		out[i] = x.ids[q]
	}
	return out, nil
}

// PredecessorPositions returns the dense positions whose successor is p.
// The slice is shared and must not be modified.
func (x *Index) PredecessorPositions(p int32) []int32 {
	x.predOnce.Do(x.buildInverse)
	return x.predPos[x.predOff[p]:x.predOff[p+1]]
}

// buildInverse lays the inverse relation out as CSR arrays with a counting
// sort over successor positions. Predecessors of a node end up in ascending
// position order.
func (x *Index) buildInverse() {
	off := make([]int32, len(x.ids)+1)
	for _, np := range x.next {
		if np != Halt {
			off[np+1]++
		}
	}
	for i := 1; i < len(off); i++ {
		off[i] += off[i-1]
	}
	fill := make([]int32, len(x.ids))
	copy(fill, off[:len(x.ids)])
	pred := make([]int32, off[len(x.ids)])
	for p, np := range x.next {
		if np == Halt {
			continue
		}
		pred[fill[np]] = int32(p)
		fill[np]++
	}
	x.predOff, x.predPos = off, pred
}

// String implements fmt.Stringer.
func (x *Index) String() string {
	return fmt.Sprintf("successor.Index(n=%d, nodes=%d, halting=%d)", x.n, x.stats.Nodes, x.stats.Halting)
}
