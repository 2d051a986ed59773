// Package branch partitions a basin by entry node.
//
// Every non-cycle page of a basin reaches the cycle through exactly one
// entry node, the first non-cycle page on its forward path. Grouping the
// basin by entry gives its branches; their sizes are the input to the
// trunkiness metrics.
package branch

import (
	"cmp"
	"fmt"
	"slices"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/linkstore"
)

// DefaultTopK is the number of branches kept in Result.TopK when Analyze is
// given a non-positive k.
const DefaultTopK = 10

// Branch is one entry node and the pages it carries into the cycle.
type Branch struct {
	Entry    linkstore.NodeID `json:"entry_id"`
	Size     int              `json:"basin_size"`
	MaxDepth uint32           `json:"max_depth"`
}

// Result is the branch structure of one basin.
type Result struct {
	// Branches ordered by size descending, then entry id ascending.
	Branches []Branch
	// TopK is a prefix of Branches.
	TopK []Branch

	CycleLength int
	BasinSize   int // cycle members included
}

// Analyze groups assignments by entry id. Assignments with Entry == NoNode
// are cycle members. Empty input is a valid basin with no branches.
func Analyze(assignments []basin.Assignment, topK int) *Result {
	if topK <= 0 {
		topK = DefaultTopK
	}

	res := &Result{BasinSize: len(assignments)}
	byEntry := make(map[linkstore.NodeID]int) // entry -> index in Branches
	for _, a := range assignments {
		if a.Entry == linkstore.NoNode {
			res.CycleLength++
			continue
		}
		i, ok := byEntry[a.Entry]
		if !ok {
			i = len(res.Branches)
			byEntry[a.Entry] = i
			res.Branches = append(res.Branches, Branch{Entry: a.Entry})
		}
		b := &res.Branches[i]
		b.Size++
		b.MaxDepth = max(b.MaxDepth, a.Depth)
	}

	slices.SortFunc(res.Branches, func(a, b Branch) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Entry, b.Entry)
	})
	res.TopK = res.Branches[:min(topK, len(res.Branches))]
	return res
}

// Sizes returns the branch sizes in Branches order.
func (r *Result) Sizes() []uint64 {
	out := make([]uint64, len(r.Branches))
	for i, b := range r.Branches {
		out[i] = uint64(b.Size)
	}
	return out
}

// Dominant returns the largest branch. ok is false when there are none.
func (r *Result) Dominant() (b Branch, ok bool) {
	if len(r.Branches) == 0 {
		return Branch{}, false
	}
	return r.Branches[0], true
}

// CheckPartition verifies that branch sizes plus the cycle length add up to
// the basin size. A mismatch is a DATA_CONSISTENCY error.
func (r *Result) CheckPartition() error {
	sum := r.CycleLength
	for _, b := range r.Branches {
		sum += b.Size
	}
	if sum != r.BasinSize {
		return nlerrors.New(nlerrors.ErrCodeDataConsistency,
			"branch partition: %d branch nodes + %d cycle nodes != basin size %d",
			sum-r.CycleLength, r.CycleLength, r.BasinSize)
	}
	return nil
}

// String implements fmt.Stringer.
func (b Branch) String() string {
	return fmt.Sprintf("entry %d: %d nodes, depth %d", b.Entry, b.Size, b.MaxDepth)
}
