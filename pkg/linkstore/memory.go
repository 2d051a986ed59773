package linkstore

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrDuplicatePage is returned by [MemoryStore.Put] when a page already has a
// link sequence. Sequences are immutable once loaded.
var ErrDuplicatePage = errors.New("duplicate page link sequence")

// scanCheckEvery is how many rows Scan processes between context checks.
const scanCheckEvery = 4096

// MemoryStore keeps the link-sequence and page tables in memory.
//
// The zero value is not usable - use NewMemoryStore.
type MemoryStore struct {
	links map[NodeID][]NodeID
	pages map[NodeID]Page
	set   map[NodeID]bool // pages with an explicit link row

	mu     sync.Mutex
	ids    []NodeID
	sorted bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		links:  make(map[NodeID][]NodeID),
		pages:  make(map[NodeID]Page),
		set:    make(map[NodeID]bool),
		sorted: true,
	}
}

// FromMap builds a store from a map of sequences. It is mostly used by tests
// and examples.
func FromMap(m map[NodeID][]NodeID) *MemoryStore {
	s := NewMemoryStore()
	for id, links := range m {
		_ = s.Put(id, links)
	}
	return s
}

// Put records the link sequence of id. The slice is copied.
// A page registered earlier through AddPage may receive its sequence once;
// any second Put for the same id returns ErrDuplicatePage.
func (s *MemoryStore) Put(id NodeID, links []NodeID) error {
	if s.set[id] {
		return ErrDuplicatePage
	}
	s.set[id] = true
	if _, known := s.links[id]; !known {
		s.addID(id)
	}
	s.links[id] = slices.Clone(links)
	return nil
}

// AddPage records page metadata. A page without a link row is still part of
// the node domain, with an empty sequence.
func (s *MemoryStore) AddPage(p Page) {
	s.pages[p.ID] = p
	if _, known := s.links[p.ID]; !known {
		s.links[p.ID] = nil
		s.addID(p.ID)
	}
}

func (s *MemoryStore) addID(id NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.ids); n > 0 && s.ids[n-1] > id {
		s.sorted = false
	}
	s.ids = append(s.ids, id)
}

// Links returns the sequence of id.
func (s *MemoryStore) Links(_ context.Context, id NodeID) ([]NodeID, bool, error) {
	links, ok := s.links[id]
	return links, ok, nil
}

// Page returns the page table row of id.
func (s *MemoryStore) Page(_ context.Context, id NodeID) (Page, bool, error) {
	p, ok := s.pages[id]
	return p, ok, nil
}

// Scan visits every page in ascending id order.
func (s *MemoryStore) Scan(ctx context.Context, fn func(id NodeID, links []NodeID) error) error {
	for i, id := range s.sortedIDs() {
		if i%scanCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(id, s.links[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) sortedIDs() []NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sorted {
		slices.Sort(s.ids)
		s.sorted = true
	}
	return s.ids
}

// Len returns the number of pages.
func (s *MemoryStore) Len() int { return len(s.links) }

// PageCount returns the number of page table rows.
func (s *MemoryStore) PageCount() int { return len(s.pages) }

// Close does nothing for the memory store.
func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements Store and PageLookup.
var (
	_ Store      = (*MemoryStore)(nil)
	_ PageLookup = (*MemoryStore)(nil)
)
