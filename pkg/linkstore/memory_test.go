package linkstore

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestMemoryStorePutAndLinks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	src := []NodeID{2, 3}
	if err := s.Put(1, src); err != nil {
		t.Fatalf("Put: %v", err)
	}
	src[0] = 99 // store must own its copy

	links, ok, err := s.Links(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("Links(1) = %v, %v, %v", links, ok, err)
	}
	if !slices.Equal(links, []NodeID{2, 3}) {
		t.Errorf("Links(1) = %v, want [2 3]", links)
	}

	if _, ok, _ := s.Links(ctx, 5); ok {
		t.Error("Links(5) should report unknown page")
	}

	if err := s.Put(1, nil); !errors.Is(err, ErrDuplicatePage) {
		t.Errorf("second Put error = %v, want ErrDuplicatePage", err)
	}
}

func TestMemoryStorePagesWithoutLinks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddPage(Page{ID: 4, Title: "Dead end"})

	links, ok, _ := s.Links(ctx, 4)
	if !ok {
		t.Fatal("page-table-only page should be in the node domain")
	}
	if len(links) != 0 {
		t.Errorf("Links(4) = %v, want empty", links)
	}

	// A link row may still arrive after the page row.
	if err := s.Put(4, []NodeID{1}); err != nil {
		t.Fatalf("Put after AddPage: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	p, ok, _ := s.Page(ctx, 4)
	if !ok || p.Title != "Dead end" {
		t.Errorf("Page(4) = %+v, %v", p, ok)
	}
}

func TestMemoryStoreScanOrder(t *testing.T) {
	s := FromMap(map[NodeID][]NodeID{
		30: {10},
		10: {20},
		20: {},
	})

	var got []NodeID
	err := s.Scan(context.Background(), func(id NodeID, _ []NodeID) error {
		got = append(got, id)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !slices.Equal(got, []NodeID{10, 20, 30}) {
		t.Errorf("Scan order = %v, want ascending", got)
	}
}

func TestMemoryStoreScanStopsOnError(t *testing.T) {
	s := FromMap(map[NodeID][]NodeID{1: nil, 2: nil, 3: nil})
	stop := errors.New("stop")

	calls := 0
	err := s.Scan(context.Background(), func(NodeID, []NodeID) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Scan error = %v, want stop", err)
	}
	if calls != 1 {
		t.Errorf("Scan called fn %d times, want 1", calls)
	}
}

func TestMemoryStoreScanCanceled(t *testing.T) {
	s := FromMap(map[NodeID][]NodeID{1: nil})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Scan(ctx, func(NodeID, []NodeID) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Scan error = %v, want context.Canceled", err)
	}
}

func TestDigest(t *testing.T) {
	ctx := context.Background()
	a := FromMap(map[NodeID][]NodeID{1: {2, 3}, 2: {1}})
	b := FromMap(map[NodeID][]NodeID{2: {1}, 1: {2, 3}})
	c := FromMap(map[NodeID][]NodeID{1: {3, 2}, 2: {1}})

	da, err := Digest(ctx, a)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	db, _ := Digest(ctx, b)
	dc, _ := Digest(ctx, c)

	if da != db {
		t.Error("Digest should not depend on insertion order")
	}
	if da == dc {
		t.Error("Digest should depend on link order")
	}
	if len(da) != 64 {
		t.Errorf("Digest length = %d, want 64", len(da))
	}
}
