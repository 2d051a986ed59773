// Package tunnel compares basin membership of pages across several N.
//
// A page is a tunnel node when the basin it drains into changes with N.
// [Classify] reduces a page's (N, basin) sequence to a [Kind]; [Matrix]
// collects basin assignments for several N into a page×N table and
// classifies every page in it.
package tunnel

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/matzehuels/nlink/pkg/linkstore"
)

// Kind is the transition pattern of one page across N.
type Kind int

const (
	// NoData: the page is in no mapped basin at any N.
	NoData Kind = iota
	// SingleN: the page is in a mapped basin at exactly one N.
	SingleN
	// Stable: one basin at every N where the page is mapped.
	Stable
	// Alternating: two basins, and the page returns to a basin it left
	// (seq[i] == seq[i-2] != seq[i-1]).
	Alternating
	// Progressive: two basins with exactly one switch.
	Progressive
	// PartialStable: two basins, several switches, no immediate return.
	PartialStable
	// MultiBasin: more than two basins.
	MultiBasin
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{NoData, SingleN, Stable, Alternating, Progressive, PartialStable, MultiBasin}

func (k Kind) String() string {
	switch k {
	case NoData:
		return "no_data"
	case SingleN:
		return "single_n"
	case Stable:
		return "stable"
	case Alternating:
		return "alternating"
	case Progressive:
		return "progressive"
	case PartialStable:
		return "partial_stable"
	case MultiBasin:
		return "multi_basin"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ParseKind parses the String form of a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown tunnel kind %q", s)
}

// Range is a run of present N values over which the basin does not change.
type Range struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Basin string `json:"basin"`
}

func (r Range) String() string {
	if r.From == r.To {
		return fmt.Sprintf("N%d: %s", r.From, r.Basin)
	}
	return fmt.Sprintf("N%d-N%d: %s", r.From, r.To, r.Basin)
}

// Classification is the result of [Classify].
type Classification struct {
	Page         linkstore.NodeID
	Kind         Kind
	NDistinct    int
	StableRanges []Range
	Transitions  []string // "N_a→N_b: basin_a→basin_b"
	Primary      string   // most frequent basin, ties by key
	Secondary    string   // second most frequent, empty below two basins
}

type step struct {
	n     int
	basin string
}

// Classify reduces basinByN to a classification. A nil value, like a missing
// key, means the page is in no mapped basin at that N. Classify is pure:
// the result depends on the (N, basin) sequence alone.
func Classify(page linkstore.NodeID, basinByN map[int]*string) Classification {
	c := Classification{Page: page}

	ns := slices.Sorted(maps.Keys(basinByN))
	var seq []step
	for _, n := range ns {
		if b := basinByN[n]; b != nil {
			seq = append(seq, step{n, *b})
		}
	}

	counts := make(map[string]int)
	for _, s := range seq {
		counts[s.basin]++
	}
	c.NDistinct = len(counts)
	c.Primary, c.Secondary = rank(counts)

	for i, s := range seq {
		if i == 0 || s.basin != seq[i-1].basin {
			c.StableRanges = append(c.StableRanges, Range{From: s.n, To: s.n, Basin: s.basin})
		} else {
			c.StableRanges[len(c.StableRanges)-1].To = s.n
		}
		if i > 0 && s.basin != seq[i-1].basin {
			c.Transitions = append(c.Transitions,
				fmt.Sprintf("N%d→N%d: %s→%s", seq[i-1].n, s.n, seq[i-1].basin, s.basin))
		}
	}

	switch {
	case len(seq) == 0:
		c.Kind = NoData
	case len(seq) == 1:
		c.Kind = SingleN
	case c.NDistinct == 1:
		c.Kind = Stable
	case c.NDistinct == 2:
		switch {
		case alternates(seq):
			c.Kind = Alternating
		case len(c.Transitions) == 1:
			c.Kind = Progressive
		default:
			c.Kind = PartialStable
		}
	default:
		c.Kind = MultiBasin
	}
	return c
}

// alternates reports whether some seq[i] equals seq[i-2] but not seq[i-1].
// Longer excursions (period > 2) do not count.
func alternates(seq []step) bool {
	for i := 2; i < len(seq); i++ {
		if seq[i].basin == seq[i-2].basin && seq[i].basin != seq[i-1].basin {
			return true
		}
	}
	return false
}

// rank returns the two most frequent keys, ties broken by key ascending.
func rank(counts map[string]int) (first, second string) {
	keys := slices.Collect(maps.Keys(counts))
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(keys) > 0 {
		first = keys[0]
	}
	if len(keys) > 1 {
		second = keys[1]
	}
	return first, second
}
