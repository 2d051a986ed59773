package linkstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// NodeID is an externally assigned page identifier.
type NodeID int64

// NoNode marks the absence of a node, for example the entry id of a cycle
// member or the successor of a halting page.
const NoNode NodeID = -1

// Page is one row of the page table.
type Page struct {
	ID         NodeID `json:"page_id"`
	Title      string `json:"title"`
	Namespace  int    `json:"namespace"`
	IsRedirect bool   `json:"is_redirect"`
}

// Store is a read-only view over the link-sequence table.
type Store interface {
	// Links returns the ordered link sequence of id. ok is false when the
	// page is not in the store. A known page may have an empty sequence.
	Links(ctx context.Context, id NodeID) (links []NodeID, ok bool, err error)

	// Scan calls fn for every page in ascending id order. The links slice
	// passed to fn must not be retained or modified. Scan stops at the first
	// error returned by fn.
	Scan(ctx context.Context, fn func(id NodeID, links []NodeID) error) error

	// Len returns the number of pages.
	Len() int

	// Close releases backend resources.
	Close() error
}

// PageLookup resolves page metadata. Stores that also hold the page table
// implement it.
type PageLookup interface {
	Page(ctx context.Context, id NodeID) (Page, bool, error)
}

// Digest computes a content hash over every (id, links) row of the store.
// Two stores with identical tables produce the same digest, which makes it a
// stable cache key component for derived results.
func Digest(ctx context.Context, s Store) (string, error) {
	h := sha256.New()
	var buf [binary.MaxVarintLen64]byte
	put := func(v int64) {
		n := binary.PutVarint(buf[:], v)
		h.Write(buf[:n])
	}
	err := s.Scan(ctx, func(id NodeID, links []NodeID) error {
		put(int64(id))
		put(int64(len(links)))
		for _, l := range links {
			put(int64(l))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
