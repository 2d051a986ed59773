package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/matzehuels/nlink/pkg/cache"
	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/tables"
)

// captureSink keeps every row in memory.
type captureSink struct {
	mu       sync.Mutex
	rows     map[string][]any
	manifest *tables.Manifest
}

func newCaptureSink() *captureSink {
	return &captureSink{rows: make(map[string][]any)}
}

func (s *captureSink) WriteBatch(_ context.Context, table string, rows []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = append(s.rows[table], rows...)
	return nil
}

func (s *captureSink) WriteManifest(_ context.Context, m tables.Manifest) error {
	s.manifest = &m
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

// A(1) -> B(2) -> C(3) -> B, and D(4) without links.
func scenarioStore() *linkstore.MemoryStore {
	return linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		1: {2},
		2: {3},
		3: {2},
		4: nil,
	})
}

func TestOptionsValidateAndSetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Ns: []int{1, 2}}, false},
		{"no n", Options{}, true},
		{"zero n", Options{Ns: []int{0}}, true},
		{"negative depth", Options{Ns: []int{1}, MaxDepth: -1}, true},
		{"negative rows", Options{Ns: []int{1}, MaxRows: -5}, true},
		{"negative top-k", Options{Ns: []int{1}, TopK: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.ValidateAndSetDefaults()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAndSetDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if tt.opts.TopK != DefaultTopK || tt.opts.Concurrency != DefaultConcurrency || tt.opts.BasinWorkers <= 0 {
					t.Errorf("defaults not applied: %+v", tt.opts)
				}
			}
		})
	}
}

func TestExecuteScenario(t *testing.T) {
	ctx := context.Background()
	sink := newCaptureSink()
	res, err := NewRunner(nil, nil, nil).Execute(ctx, scenarioStore(), sink, Options{Ns: []int{1}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(res.PerN) != 1 {
		t.Fatalf("PerN = %+v", res.PerN)
	}
	st := res.PerN[0]
	if st.Nodes != 4 || st.Halting != 1 || st.Cycles != 1 || st.Basins != 1 || st.Partial != 0 {
		t.Errorf("NStats = %+v", st)
	}

	if len(res.Trunkiness) != 1 {
		t.Fatalf("Trunkiness = %+v", res.Trunkiness)
	}
	row := res.Trunkiness[0]
	if row.CycleKey != "2-3" || row.TotalBasinNodes != 3 || row.NBranches != 1 {
		t.Errorf("row = %+v", row)
	}
	if math.Abs(float64(row.Top1Share)-1.0/3) > 1e-12 {
		t.Errorf("top1 share = %v, want 1/3", row.Top1Share)
	}
	if row.DominantEntry != 1 {
		t.Errorf("dominant entry = %d, want 1", row.DominantEntry)
	}

	if got := len(sink.rows[tables.Assignments]); got != 3 {
		t.Errorf("assignment rows = %d, want 3", got)
	}
	branches := sink.rows[tables.Branches]
	if len(branches) != 1 {
		t.Fatalf("branch rows = %v", branches)
	}
	if b := branches[0].(tables.BranchRow); b.EntryID != 1 || b.BasinSize != 1 {
		t.Errorf("branch = %+v", b)
	}

	// one N: every page in a basin is a single-N record, none a tunnel
	if res.Tunnels.Pages != 3 || res.Tunnels.Tunnels != 0 {
		t.Errorf("tunnels = %+v", res.Tunnels)
	}
	if got := len(sink.rows[tables.Tunnels]); got != 3 {
		t.Errorf("tunnel rows = %d, want 3", got)
	}

	if sink.manifest == nil {
		t.Fatal("manifest not written")
	}
	if sink.manifest.RunID != res.RunID || sink.manifest.Basins != 1 || sink.manifest.Rows[tables.Trunkiness] != 1 {
		t.Errorf("manifest = %+v", sink.manifest)
	}
}

func TestExecuteTunnels(t *testing.T) {
	// N=1: 1->2->3->2, 4->4.  N=2: 1->4->2->1, 3->3.
	store := linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		1: {2, 4},
		2: {3, 1},
		3: {2, 3},
		4: {4, 2},
	})
	res, err := NewRunner(nil, nil, nil).Execute(context.Background(), store, nil, Options{Ns: []int{2, 1, 2}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.PerN) != 2 || res.PerN[0].N != 1 || res.PerN[1].N != 2 {
		t.Fatalf("PerN = %+v", res.PerN)
	}
	keys := []string{}
	for _, r := range res.Trunkiness {
		keys = append(keys, r.CycleKey)
	}
	want := []string{"2-3", "4", "1-4-2", "3"}
	if len(keys) != len(want) {
		t.Fatalf("cycle keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("cycle keys = %v, want %v", keys, want)
			break
		}
	}
	if res.Tunnels.Pages != 4 || res.Tunnels.Tunnels != 4 {
		t.Errorf("tunnels = %+v", res.Tunnels)
	}
	if res.Rows != nil {
		t.Errorf("Rows = %v without a sink", res.Rows)
	}
}

func TestExecuteMissingNodeFailsOnlyItsN(t *testing.T) {
	// page 2 links to an unknown page at N=1; at N=2 every page halts.
	store := linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		1: {2},
		2: {99},
	})
	sink := newCaptureSink()
	res, err := NewRunner(nil, nil, nil).Execute(context.Background(), store, sink, Options{Ns: []int{1, 2}})
	if res == nil {
		t.Fatalf("Execute() result = nil, err = %v", err)
	}
	if err == nil {
		t.Fatal("Execute() err = nil, want the failed job")
	}
	var missing *nlerrors.MissingNodeError
	if !errors.As(err, &missing) || missing.Node != 99 {
		t.Errorf("err = %v, want missing node 99", err)
	}
	if !res.PerN[0].Failed || res.PerN[1].Failed {
		t.Errorf("PerN = %+v", res.PerN)
	}
	if len(res.Errors) != 1 || res.Errors[0].Code != string(nlerrors.ErrCodeMissingNode) || res.Errors[0].N != 1 {
		t.Errorf("Errors = %+v", res.Errors)
	}
	if sink.manifest == nil || len(sink.manifest.Errors) != 1 {
		t.Errorf("manifest errors = %+v", sink.manifest)
	}
}

func TestExecuteFailedNMarksTunnelsPartial(t *testing.T) {
	// N=1: 3 links to an unknown page. N=2: 1 <-> 2 with 3 feeding 1.
	store := linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		1: {2, 2},
		2: {1, 1},
		3: {99, 1},
	})
	sink := newCaptureSink()
	res, err := NewRunner(nil, nil, nil).Execute(context.Background(), store, sink, Options{Ns: []int{1, 2}})
	if res == nil {
		t.Fatalf("Execute() result = nil, err = %v", err)
	}
	if !nlerrors.Is(err, nlerrors.ErrCodeMissingNode) {
		t.Errorf("err = %v, want MISSING_NODE", err)
	}
	if !res.PerN[0].Failed || res.PerN[1].Basins != 1 {
		t.Fatalf("PerN = %+v", res.PerN)
	}
	if res.Tunnels.Pages != 3 || res.Tunnels.Partial != 3 {
		t.Errorf("tunnels = %+v, want 3 pages all partial", res.Tunnels)
	}
	rows := sink.rows[tables.Tunnels]
	if len(rows) != 3 {
		t.Fatalf("tunnel rows = %d, want 3", len(rows))
	}
	for _, r := range rows {
		row := r.(map[string]any)
		if row["partial"] != true {
			t.Errorf("row %v not partial", row)
		}
		if row["basin_at_N1"] != nil || row["basin_at_N2"] != "1-2" {
			t.Errorf("row %v", row)
		}
	}
}

func TestExecuteCompleteRunNotPartial(t *testing.T) {
	res, err := NewRunner(nil, nil, nil).Execute(context.Background(), scenarioStore(), nil, Options{Ns: []int{1}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Tunnels.Partial != 0 {
		t.Errorf("partial tunnel records = %d, want 0", res.Tunnels.Partial)
	}
}

func TestExecuteDanglingAsHalt(t *testing.T) {
	store := linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		1: {2},
		2: {99},
	})
	res, err := NewRunner(nil, nil, nil).Execute(context.Background(), store, nil,
		Options{Ns: []int{1}, DanglingAsHalt: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st := res.PerN[0]; st.Dangling != 1 || st.Cycles != 0 {
		t.Errorf("NStats = %+v", st)
	}
}

func TestExecutePartialBasin(t *testing.T) {
	// chain 5 -> 4 -> 3 -> 1 <-> 2
	store := linkstore.FromMap(map[linkstore.NodeID][]linkstore.NodeID{
		1: {2}, 2: {1}, 3: {1}, 4: {3}, 5: {4},
	})
	res, err := NewRunner(nil, nil, nil).Execute(context.Background(), store, nil,
		Options{Ns: []int{1}, MaxDepth: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.PerN[0].Partial != 1 {
		t.Errorf("partial basins = %d, want 1", res.PerN[0].Partial)
	}
	row := res.Trunkiness[0]
	if !row.Partial || row.StopReason != "max_depth" || row.TotalBasinNodes != 3 {
		t.Errorf("row = %+v", row)
	}
	if res.Tunnels.Partial != 3 {
		t.Errorf("partial tunnel records = %d, want 3", res.Tunnels.Partial)
	}
}

func TestExecuteUsesCache(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	runner := NewRunner(c, nil, nil)
	defer runner.Close()

	first, err := runner.Execute(ctx, scenarioStore(), nil, Options{Ns: []int{1}})
	if err != nil {
		t.Fatal(err)
	}
	if first.StoreDigest == "" {
		t.Fatal("no store digest with a file cache")
	}
	if first.PerN[0].CyclesCacheHit || first.PerN[0].BasinCacheHits != 0 {
		t.Errorf("first run hit the cache: %+v", first.PerN[0])
	}

	second, err := runner.Execute(ctx, scenarioStore(), nil, Options{Ns: []int{1}})
	if err != nil {
		t.Fatal(err)
	}
	if !second.PerN[0].CyclesCacheHit || second.PerN[0].BasinCacheHits != 1 {
		t.Errorf("second run missed the cache: %+v", second.PerN[0])
	}
	if second.Trunkiness[0] != first.Trunkiness[0] {
		t.Errorf("cached row %+v != computed row %+v", second.Trunkiness[0], first.Trunkiness[0])
	}

	refreshed, err := runner.Execute(ctx, scenarioStore(), nil, Options{Ns: []int{1}, Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.PerN[0].CyclesCacheHit || refreshed.PerN[0].BasinCacheHits != 0 {
		t.Errorf("refresh read the cache: %+v", refreshed.PerN[0])
	}
}

func TestExecuteCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewRunner(nil, nil, nil).Execute(ctx, scenarioStore(), newCaptureSink(), Options{Ns: []int{1}})
	if res != nil || !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() = %v, %v; want nil, context.Canceled", res, err)
	}
}

func TestExecuteInvalidOptions(t *testing.T) {
	_, err := NewRunner(nil, nil, nil).Execute(context.Background(), scenarioStore(), nil, Options{})
	if !nlerrors.Is(err, nlerrors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	runner := NewRunner(nil, nil, nil)
	idx, err := runner.BuildIndex(ctx, scenarioStore(), 1, Options{}.IndexOptions())
	if err != nil {
		t.Fatal(err)
	}
	cycles, err := runner.Cycles(ctx, idx, "", Options{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := runner.Basin(ctx, idx, "", cycles[0], Options{})
	if err != nil {
		t.Fatal(err)
	}
	data, err := encodeBasin(res)
	if err != nil {
		t.Fatal(err)
	}
	back, err := decodeBasin(data)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Cycle.Equal(res.Cycle) || len(back.Assignments) != len(res.Assignments) || back.Stop != res.Stop {
		t.Errorf("round trip = %+v, want %+v", back, res)
	}
	if _, err := decodeBasin([]byte("not snappy")); err == nil {
		t.Error("decodeBasin(garbage) = nil error")
	}
}
