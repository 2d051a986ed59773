// Package tables writes analysis output tables.
//
// A run produces five tables: basin assignments, branches, the top-k
// branches of each basin, one trunkiness row per basin, and the cross-N
// tunnel table. Rows reach a [Sink] through a [Writer], one per table,
// which owns a single goroutine; pipeline jobs only send rows over its
// channel, so a table never has two concurrent writers.
//
// Sinks:
//   - [FileSink]: one JSONL file per table plus a run.json manifest
//   - [MongoSink]: one collection per table in a MongoDB database
package tables

import (
	"fmt"
	"slices"
	"time"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/branch"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/tunnel"
)

// Table names.
const (
	Assignments  = "assignments"
	Branches     = "branches"
	BranchesTopK = "branches_topk"
	Trunkiness   = "trunkiness"
	Tunnels      = "tunnels"
)

// All lists every table in output order.
var All = []string{Assignments, Branches, BranchesTopK, Trunkiness, Tunnels}

// AssignmentRow is one page of one basin.
type AssignmentRow struct {
	N        int              `json:"n" bson:"n"`
	CycleKey string           `json:"cycle_key" bson:"cycle_key"`
	PageID   linkstore.NodeID `json:"page_id" bson:"page_id"`
	EntryID  linkstore.NodeID `json:"entry_id" bson:"entry_id"`
	Depth    uint32           `json:"depth" bson:"depth"`
}

// BranchRow is one branch of one basin. Rank is 1-based in size order.
type BranchRow struct {
	N         int              `json:"n" bson:"n"`
	CycleKey  string           `json:"cycle_key" bson:"cycle_key"`
	Rank      int              `json:"rank" bson:"rank"`
	EntryID   linkstore.NodeID `json:"entry_id" bson:"entry_id"`
	BasinSize int              `json:"basin_size" bson:"basin_size"`
	MaxDepth  uint32           `json:"max_depth" bson:"max_depth"`
}

// AssignmentRows converts a basin map to rows.
func AssignmentRows(n int, res *basin.Result) []any {
	key := res.Key()
	rows := make([]any, len(res.Assignments))
	for i, a := range res.Assignments {
		rows[i] = AssignmentRow{N: n, CycleKey: key, PageID: a.Node, EntryID: a.Entry, Depth: a.Depth}
	}
	return rows
}

// BranchRows converts branches to rows.
func BranchRows(n int, cycleKey string, branches []branch.Branch) []any {
	rows := make([]any, len(branches))
	for i, b := range branches {
		rows[i] = BranchRow{
			N:         n,
			CycleKey:  cycleKey,
			Rank:      i + 1,
			EntryID:   b.Entry,
			BasinSize: b.Size,
			MaxDepth:  b.MaxDepth,
		}
	}
	return rows
}

// TunnelRow flattens a tunnel record. The basin at every N of the run is a
// basin_at_N<n> column, nil where the page is in no mapped basin.
func TunnelRow(rec tunnel.Record, ns []int) map[string]any {
	ranges := make([]string, len(rec.StableRanges))
	for i, r := range rec.StableRanges {
		ranges[i] = r.String()
	}
	row := map[string]any{
		"page_id":               rec.Page,
		"n_distinct_basins":     rec.NDistinct,
		"is_tunnel_node":        rec.IsTunnel,
		"tunnel_type":           rec.Kind.String(),
		"stable_ranges":         ranges,
		"switching_transitions": slices.Clone(rec.Transitions),
		"primary_basin":         rec.Primary,
		"secondary_basin":       rec.Secondary,
		"partial":               rec.Partial,
	}
	for _, n := range ns {
		col := fmt.Sprintf("basin_at_N%d", n)
		if key, ok := rec.BasinByN[n]; ok {
			row[col] = key
		} else {
			row[col] = nil
		}
	}
	return row
}

// TunnelRows flattens every record.
func TunnelRows(records []tunnel.Record, ns []int) []any {
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = TunnelRow(r, ns)
	}
	return rows
}

// Manifest describes one run. Sinks store it next to the tables.
type Manifest struct {
	RunID      string         `json:"run_id" bson:"_id"`
	Version    string         `json:"version" bson:"version"`
	StartedAt  time.Time      `json:"started_at" bson:"started_at"`
	FinishedAt time.Time      `json:"finished_at" bson:"finished_at"`
	Ns         []int          `json:"ns" bson:"ns"`
	Options    map[string]any `json:"options,omitempty" bson:"options,omitempty"`
	Rows       map[string]int `json:"rows" bson:"rows"`
	Basins     int            `json:"basins" bson:"basins"`
	Partial    int            `json:"partial_basins" bson:"partial_basins"`
	Errors     []JobError     `json:"errors,omitempty" bson:"errors,omitempty"`
}

// JobError is a failed job recorded in the manifest.
type JobError struct {
	N        int    `json:"n" bson:"n"`
	CycleKey string `json:"cycle_key,omitempty" bson:"cycle_key,omitempty"`
	Code     string `json:"code" bson:"code"`
	Message  string `json:"message" bson:"message"`
}
