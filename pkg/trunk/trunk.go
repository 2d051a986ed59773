// Package trunk measures how concentrated a basin is in its largest branches.
//
// A "trunky" basin funnels most of its pages through one or a few entry
// nodes. The measures are the share of the basin held by the top 1, 5 and 10
// branches, the effective number of branches (inverse Simpson index), the
// Gini coefficient of branch sizes and their normalized Shannon entropy.
package trunk

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/branch"
	"github.com/matzehuels/nlink/pkg/linkstore"
)

// Metrics are the concentration indices of one basin.
type Metrics struct {
	Top1Share         float64
	Top5Share         float64
	Top10Share        float64
	EffectiveBranches float64
	Gini              float64
	EntropyNorm       float64
	NBranches         int
	TotalBasinNodes   uint64
}

// Compute derives the metrics from branch sizes and the cycle length.
//
// Shares are relative to the whole basin (branch nodes plus cycle), so they
// stay below 1 whenever the cycle is non-empty. EffectiveBranches is +Inf
// when no branch has any nodes, Gini is NaN for no branches and 0 when all
// sizes are zero, and EntropyNorm is 0 for at most one branch.
func Compute(sizes []uint64, cycleLen int) Metrics {
	sorted := slices.Clone(sizes)
	slices.Sort(sorted)
	slices.Reverse(sorted)

	var sum uint64
	for _, s := range sorted {
		sum += s
	}
	total := sum + uint64(cycleLen)

	m := Metrics{
		NBranches:         len(sizes),
		TotalBasinNodes:   total,
		EffectiveBranches: EffectiveBranches(sizes),
		Gini:              Gini(sizes),
		EntropyNorm:       EntropyNorm(sizes),
	}
	if total > 0 {
		m.Top1Share = float64(topSum(sorted, 1)) / float64(total)
		m.Top5Share = float64(topSum(sorted, 5)) / float64(total)
		m.Top10Share = float64(topSum(sorted, 10)) / float64(total)
	}
	return m
}

// topSum sums the first k entries of a descending slice.
func topSum(desc []uint64, k int) uint64 {
	var s uint64
	for _, v := range desc[:min(k, len(desc))] {
		s += v
	}
	return s
}

// EffectiveBranches returns 1 / Σ p_i² with p_i = size_i / Σ size, or +Inf
// when the sizes sum to zero.
func EffectiveBranches(sizes []uint64) float64 {
	sum := sumOf(sizes)
	if sum == 0 {
		return math.Inf(1)
	}
	var hhi float64
	for _, s := range sizes {
		p := float64(s) / sum
		hhi += p * p
	}
	return 1 / hhi
}

// EntropyNorm returns -Σ p_i ln p_i / ln n for n > 1 branches, and 0
// otherwise. Zero-size branches contribute nothing.
func EntropyNorm(sizes []uint64) float64 {
	n := len(sizes)
	sum := sumOf(sizes)
	if n <= 1 || sum == 0 {
		return 0
	}
	var h float64
	for _, s := range sizes {
		if s == 0 {
			continue
		}
		p := float64(s) / sum
		h -= p * math.Log(p)
	}
	return clamp01(h / math.Log(float64(n)))
}

// Gini returns (2 Σ i·x_i) / (n Σ x_i) − (n+1)/n over sizes sorted ascending
// with 1-based i. It is NaN for no sizes and 0 when all sizes are zero.
func Gini(sizes []uint64) float64 {
	n := len(sizes)
	if n == 0 {
		return math.NaN()
	}
	sum := sumOf(sizes)
	if sum == 0 {
		return 0
	}
	asc := slices.Clone(sizes)
	slices.Sort(asc)
	var weighted float64
	for i, x := range asc {
		weighted += float64(i+1) * float64(x)
	}
	fn := float64(n)
	return clamp01(2*weighted/(fn*sum) - (fn+1)/fn)
}

// clamp01 absorbs rounding at the ends of [0, 1].
func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func sumOf(sizes []uint64) float64 {
	var s float64
	for _, v := range sizes {
		s += float64(v)
	}
	return s
}

// Row is one line of the trunkiness table.
type Row struct {
	N                 int              `json:"n" bson:"n"`
	CycleKey          string           `json:"cycle_key" bson:"cycle_key"`
	CycleLen          int              `json:"cycle_len" bson:"cycle_len"`
	TotalBasinNodes   uint64           `json:"total_basin_nodes" bson:"total_basin_nodes"`
	NBranches         int              `json:"n_branches" bson:"n_branches"`
	Top1Share         Float            `json:"top1_share_total" bson:"top1_share_total"`
	Top5Share         Float            `json:"top5_share_total" bson:"top5_share_total"`
	Top10Share        Float            `json:"top10_share_total" bson:"top10_share_total"`
	EffectiveBranches Float            `json:"effective_branches" bson:"effective_branches"`
	Gini              Float            `json:"gini_branch_sizes" bson:"gini_branch_sizes"`
	EntropyNorm       Float            `json:"entropy_norm" bson:"entropy_norm"`
	DominantEntry     linkstore.NodeID `json:"dominant_entry" bson:"dominant_entry"`
	DominantMaxDepth  uint32           `json:"dominant_max_depth" bson:"dominant_max_depth"`
	Partial           bool             `json:"partial" bson:"partial"`
	StopReason        string           `json:"stop_reason,omitempty" bson:"stop_reason,omitempty"`
}

// BuildRow assembles the trunkiness row for one basin at one N. A row built
// from a partial basin map is marked so.
func BuildRow(n int, b *basin.Result, br *branch.Result) Row {
	m := Compute(br.Sizes(), len(b.Cycle))
	row := Row{
		N:                 n,
		CycleKey:          b.Key(),
		CycleLen:          len(b.Cycle),
		TotalBasinNodes:   m.TotalBasinNodes,
		NBranches:         m.NBranches,
		Top1Share:         Float(m.Top1Share),
		Top5Share:         Float(m.Top5Share),
		Top10Share:        Float(m.Top10Share),
		EffectiveBranches: Float(m.EffectiveBranches),
		Gini:              Float(m.Gini),
		EntropyNorm:       Float(m.EntropyNorm),
		DominantEntry:     linkstore.NoNode,
		Partial:           b.Partial,
		StopReason:        b.Stop.String(),
	}
	if d, ok := br.Dominant(); ok {
		row.DominantEntry = d.Entry
		row.DominantMaxDepth = d.MaxDepth
	}
	return row
}

// Float is a metric value whose JSON form survives NaN and infinities:
// NaN encodes as null and ±Inf as the strings "+Inf" and "-Inf".
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(b []byte) error {
	switch s := string(b); s {
	case "null":
		*f = Float(math.NaN())
		return nil
	case `"+Inf"`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = Float(math.Inf(-1))
		return nil
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("trunk: invalid metric value %s", s)
		}
		*f = Float(v)
		return nil
	}
}
