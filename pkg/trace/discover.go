package trace

import (
	"context"
	"slices"

	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/successor"
)

const discoverCheckEvery = 1 << 14

// DiscoverCycles returns every cycle of idx in canonical rotation, ordered by
// smallest member.
//
// Each page is walked at most once: a walk marks the pages it visits with
// its own stamp and stops at the first page already stamped. If that page
// carries the current stamp the walk closed a new cycle; otherwise it merged
// into a finished walk.
func DiscoverCycles(ctx context.Context, idx *successor.Index) ([]Cycle, error) {
	n := idx.Len()
	stamp := make([]int32, n) // 0 = unvisited, otherwise walk number
	var cycles []Cycle

	walk := int32(0)
	for start := 0; start < n; start++ {
		if start%discoverCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if stamp[start] != 0 {
			continue
		}
		walk++
		p := int32(start)
		for p != successor.Halt && stamp[p] == 0 {
			stamp[p] = walk
			p = idx.Next(p)
		}
		if p == successor.Halt || stamp[p] != walk {
			continue
		}
		var members []linkstore.NodeID
		q := p
		for {
			members = append(members, idx.ID(q))
			q = idx.Next(q)
			if q == p {
				break
			}
		}
		cycles = append(cycles, Canonicalize(members))
	}

	slices.SortFunc(cycles, func(a, b Cycle) int { return slices.Compare(a, b) })
	return cycles, nil
}
