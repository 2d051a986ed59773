package tables

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/branch"
	"github.com/matzehuels/nlink/pkg/cache"
	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
	"github.com/matzehuels/nlink/pkg/trace"
	"github.com/matzehuels/nlink/pkg/tunnel"
)

// memSink records batches in memory.
type memSink struct {
	mu       sync.Mutex
	batches  map[string][]int
	rows     map[string][]any
	manifest *Manifest
	failOn   string
}

func newMemSink() *memSink {
	return &memSink{batches: make(map[string][]int), rows: make(map[string][]any)}
}

func (s *memSink) WriteBatch(_ context.Context, table string, rows []any) error {
	if table == s.failOn {
		return errors.New("disk full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[table] = append(s.batches[table], len(rows))
	s.rows[table] = append(s.rows[table], rows...)
	return nil
}

func (s *memSink) WriteManifest(_ context.Context, m Manifest) error {
	s.manifest = &m
	return nil
}

func (s *memSink) Close(context.Context) error { return nil }

func TestWriterBatches(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	set := Open(ctx, sink, Options{BatchSize: 4})

	w := set.Table(Assignments)
	for i := 0; i < 10; i++ {
		if err := w.Write(ctx, i); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	counts, err := set.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if counts[Assignments] != 10 {
		t.Errorf("written = %d, want 10", counts[Assignments])
	}
	if got := sink.batches[Assignments]; len(got) != 3 || got[0] != 4 || got[2] != 2 {
		t.Errorf("batches = %v, want [4 4 2]", got)
	}
	// order is preserved through the single writer goroutine
	for i, r := range sink.rows[Assignments] {
		if r.(int) != i {
			t.Fatalf("row %d = %v", i, r)
		}
	}
	if err := w.Write(ctx, 11); err == nil {
		t.Error("Write after Close = nil error")
	}
}

func TestWriterConcurrentSenders(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	set := Open(ctx, sink, Options{BatchSize: 7})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = set.Table(Branches).Write(ctx, i, i)
			}
		}()
	}
	wg.Wait()
	counts, err := set.Close()
	if err != nil {
		t.Fatal(err)
	}
	if counts[Branches] != 800 {
		t.Errorf("written = %d, want 800", counts[Branches])
	}
}

func TestSetCloseAggregatesErrors(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	sink.failOn = Tunnels
	set := Open(ctx, sink, Options{BatchSize: 1})

	_ = set.Table(Tunnels).Write(ctx, "a", "b", "c")
	_ = set.Table(Trunkiness).Write(ctx, "row")
	counts, err := set.Close()
	if err == nil {
		t.Fatal("Close() = nil, want sink error")
	}
	if counts[Tunnels] != 0 || counts[Trunkiness] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestWriterFailsFastAfterSinkError(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	sink.failOn = Assignments
	set := Open(ctx, sink, Options{BatchSize: 1})
	w := set.Table(Assignments)

	if err := w.Write(ctx, "a"); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for w.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("flush error never recorded")
		}
		time.Sleep(time.Millisecond)
	}
	if err := w.Write(ctx, "b"); err == nil || !errors.Is(err, w.Err()) {
		t.Errorf("Write after failed flush = %v, want %v", err, w.Err())
	}
	if _, err := set.Close(); err == nil {
		t.Error("Close() = nil, want sink error")
	}
}

func TestAssignmentAndBranchRows(t *testing.T) {
	res := &basin.Result{
		Cycle: trace.Cycle{2, 3},
		Assignments: []basin.Assignment{
			{Node: 2, Entry: linkstore.NoNode},
			{Node: 3, Entry: linkstore.NoNode},
			{Node: 1, Entry: 1, Depth: 1},
		},
	}
	rows := AssignmentRows(4, res)
	if len(rows) != 3 {
		t.Fatalf("len = %d", len(rows))
	}
	if got := rows[2].(AssignmentRow); got.N != 4 || got.CycleKey != "2-3" || got.PageID != 1 || got.Depth != 1 {
		t.Errorf("row = %+v", got)
	}

	brows := BranchRows(4, "2-3", []branch.Branch{{Entry: 1, Size: 5}, {Entry: 9, Size: 2}})
	if got := brows[1].(BranchRow); got.Rank != 2 || got.EntryID != 9 {
		t.Errorf("branch row = %+v", got)
	}
}

func TestTunnelRow(t *testing.T) {
	a, b := "2-3", "7"
	rec := tunnel.Record{
		Classification: tunnel.Classify(1, map[int]*string{1: &a, 2: &b, 3: nil}),
		BasinByN:       map[int]string{1: a, 2: b},
		IsTunnel:       true,
	}
	row := TunnelRow(rec, []int{1, 2, 3})
	if row["basin_at_N1"] != "2-3" || row["basin_at_N2"] != "7" {
		t.Errorf("basin columns = %v %v", row["basin_at_N1"], row["basin_at_N2"])
	}
	if v, ok := row["basin_at_N3"]; !ok || v != nil {
		t.Errorf("basin_at_N3 = %v (present %v), want nil column", v, ok)
	}
	if row["is_tunnel_node"] != true || row["page_id"] != linkstore.NodeID(1) {
		t.Errorf("row = %v", row)
	}
	if row["n_distinct_basins"] != 2 || row["primary_basin"] != rec.Primary || row["secondary_basin"] != rec.Secondary {
		t.Errorf("basin columns = %v", row)
	}
	if _, ok := row["switching_transitions"]; !ok {
		t.Error("missing switching_transitions column")
	}
	for _, old := range []string{"n_distinct", "is_tunnel", "transitions", "primary", "secondary"} {
		if _, ok := row[old]; ok {
			t.Errorf("unexpected column %q", old)
		}
	}
	if _, err := json.Marshal(row); err != nil {
		t.Errorf("marshal: %v", err)
	}
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	set := Open(ctx, sink, Options{BatchSize: 2})
	rows := AssignmentRows(1, &basin.Result{
		Cycle:       trace.Cycle{5},
		Assignments: []basin.Assignment{{Node: 5, Entry: linkstore.NoNode}, {Node: 6, Entry: 6, Depth: 1}, {Node: 7, Entry: 6, Depth: 2}},
	})
	if err := set.Table(Assignments).Write(ctx, rows...); err != nil {
		t.Fatal(err)
	}
	counts, err := set.Close()
	if err != nil {
		t.Fatal(err)
	}

	m := Manifest{RunID: "run-1", StartedAt: time.Unix(0, 0).UTC(), Ns: []int{1}, Rows: counts}
	if err := sink.WriteManifest(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(sink.Path(Assignments))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var got []AssignmentRow
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r AssignmentRow
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if len(got) != 3 || got[0].EntryID != linkstore.NoNode || got[2].EntryID != 6 {
		t.Errorf("rows = %+v", got)
	}

	back, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if back.RunID != "run-1" || back.Rows[Assignments] != 3 {
		t.Errorf("manifest = %+v", back)
	}
}

func TestKeyedDocuments(t *testing.T) {
	rows := []any{
		AssignmentRow{N: 2, CycleKey: "1-2", PageID: 3, EntryID: 3, Depth: 1},
		map[string]any{"page_id": int64(7), "_id": "ignored"},
	}
	docs, err := keyedDocuments("run/assignments", 10, rows)
	if err != nil {
		t.Fatal(err)
	}
	first := docs[0].(bson.D)
	if first[0].Key != "_id" || first[0].Value != "run/assignments/10" {
		t.Errorf("first _id = %v", first[0])
	}
	if first[2].Key != "cycle_key" || first[2].Value != "1-2" {
		t.Errorf("fields = %v", first)
	}
	second := docs[1].(bson.D)
	if len(second) != 2 || second[0].Value != "run/assignments/11" {
		t.Errorf("second = %v", second)
	}

	// the same rows keep their ids when encoded again for a retry
	again, err := keyedDocuments("run/assignments", 10, rows)
	if err != nil {
		t.Fatal(err)
	}
	if again[1].(bson.D)[0].Value != second[0].Value {
		t.Error("ids differ between encodings")
	}
}

func TestOnlyDuplicates(t *testing.T) {
	dup := mongo.WriteError{Code: duplicateKey}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"duplicates", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: dup}, {WriteError: dup}}}, true},
		{"mixed", mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: dup}, {WriteError: mongo.WriteError{Code: 121}}}}, false},
		{"write concern", mongo.BulkWriteException{
			WriteErrors:       []mongo.BulkWriteError{{WriteError: dup}},
			WriteConcernError: &mongo.WriteConcernError{Code: 64},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := onlyDuplicates(tt.err); got != tt.want {
				t.Errorf("onlyDuplicates(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMongoConfigValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewMongoSink(ctx, MongoConfig{URI: "http://localhost", Database: "x"}); !nlerrors.Is(err, nlerrors.ErrCodeInvalidInput) {
		t.Errorf("bad scheme: err = %v", err)
	}
	if _, err := NewMongoSink(ctx, MongoConfig{URI: "mongodb://localhost:27017"}); !nlerrors.Is(err, nlerrors.ErrCodeInvalidInput) {
		t.Errorf("missing database: err = %v", err)
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
	plain := errors.New("duplicate key")
	if err := classify(plain); cache.IsRetryable(err) {
		t.Error("plain error marked retryable")
	}
}
