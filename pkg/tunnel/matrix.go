package tunnel

import (
	"maps"
	"slices"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/linkstore"
)

const absent = -1

// Record is one row of the tunnel table.
type Record struct {
	Classification
	BasinByN map[int]string // present N values only
	IsTunnel bool

	// Partial is set when the page's basin at some N came from a partial
	// map, or the page is absent at an N where any basin map was partial or
	// any basin job failed.
	Partial bool
}

// Matrix accumulates basin assignments for a fixed set of N values.
//
// A Matrix is not safe for concurrent use; one goroutine should own it and
// receive basin maps over a channel.
type Matrix struct {
	ns     []int
	column map[int]int // N -> column

	keys   []string // interned basin keys
	keyID  map[string]int32
	pages  map[linkstore.NodeID][]int32 // page -> basin per column
	parts  []map[int32]bool             // column -> partial basins
	anyPar []bool                       // column -> any partial map or failed job
	failed []bool                       // column -> any failed job
}

// NewMatrix creates a matrix over ns. Duplicates are ignored.
func NewMatrix(ns []int) *Matrix {
	ns = slices.Clone(ns)
	slices.Sort(ns)
	ns = slices.Compact(ns)

	m := &Matrix{
		ns:     ns,
		column: make(map[int]int, len(ns)),
		keyID:  make(map[string]int32),
		pages:  make(map[linkstore.NodeID][]int32),
		parts:  make([]map[int32]bool, len(ns)),
		anyPar: make([]bool, len(ns)),
		failed: make([]bool, len(ns)),
	}
	for i, n := range ns {
		m.column[n] = i
		m.parts[i] = make(map[int32]bool)
	}
	return m
}

// Ns returns the N values of the matrix in ascending order.
func (m *Matrix) Ns() []int { return m.ns }

// Add records every page of one basin map at n. Cycle members count as
// basin members. Adding a page to two basins at the same n is a
// DATA_CONSISTENCY error; an n outside the matrix is INVALID_INPUT.
func (m *Matrix) Add(n int, basinKey string, assignments []basin.Assignment, partial bool) error {
	col, ok := m.column[n]
	if !ok {
		return nlerrors.New(nlerrors.ErrCodeInvalidInput, "n=%d is not a matrix column", n)
	}
	id, ok := m.keyID[basinKey]
	if !ok {
		id = int32(len(m.keys))
		m.keys = append(m.keys, basinKey)
		m.keyID[basinKey] = id
	}
	if partial {
		m.parts[col][id] = true
		m.anyPar[col] = true
	}

	for _, a := range assignments {
		row := m.pages[a.Node]
		if row == nil {
			row = make([]int32, len(m.ns))
			for i := range row {
				row[i] = absent
			}
			m.pages[a.Node] = row
		}
		if prev := row[col]; prev != absent && prev != id {
			return nlerrors.New(nlerrors.ErrCodeDataConsistency,
				"page %d in basins %s and %s at n=%d", a.Node, m.keys[prev], basinKey, n)
		}
		row[col] = id
	}
	return nil
}

// MarkFailed records that a basin job at n failed, either for the whole N
// or for a single cycle. Pages absent at n are then reported as partial,
// since their basin at n is unknown rather than none.
func (m *Matrix) MarkFailed(n int) error {
	col, ok := m.column[n]
	if !ok {
		return nlerrors.New(nlerrors.ErrCodeInvalidInput, "n=%d is not a matrix column", n)
	}
	m.failed[col] = true
	m.anyPar[col] = true
	return nil
}

// Failed returns the N values with at least one failed job, ascending.
func (m *Matrix) Failed() []int {
	var out []int
	for col, n := range m.ns {
		if m.failed[col] {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of pages seen in any basin.
func (m *Matrix) Len() int { return len(m.pages) }

// Records classifies every page seen in any basin, ordered by page id.
func (m *Matrix) Records() []Record {
	ids := slices.Sorted(maps.Keys(m.pages))
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.record(id, m.pages[id]))
	}
	return out
}

func (m *Matrix) record(page linkstore.NodeID, row []int32) Record {
	byN := make(map[int]*string, len(m.ns))
	rec := Record{BasinByN: make(map[int]string)}
	for col, n := range m.ns {
		b := row[col]
		if b == absent {
			byN[n] = nil
			rec.Partial = rec.Partial || m.anyPar[col]
			continue
		}
		key := m.keys[b]
		byN[n] = &key
		rec.BasinByN[n] = key
		rec.Partial = rec.Partial || m.parts[col][b]
	}
	rec.Classification = Classify(page, byN)
	rec.IsTunnel = rec.NDistinct > 1
	return rec
}

// Summary counts records per kind.
type Summary struct {
	Pages   int
	Tunnels int
	Partial int
	ByKind  map[Kind]int
}

// Summarize counts records per kind.
func Summarize(records []Record) Summary {
	s := Summary{Pages: len(records), ByKind: make(map[Kind]int, len(Kinds))}
	for _, r := range records {
		s.ByKind[r.Kind]++
		if r.IsTunnel {
			s.Tunnels++
		}
		if r.Partial {
			s.Partial++
		}
	}
	return s
}
