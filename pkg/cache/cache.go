// Package cache provides caching for derived analysis results.
//
// Building a successor index and discovering its cycles costs a full pass
// over the link store per N; mapping a large basin costs far more. Both are
// pure functions of the store contents, so results are cached under keys
// derived from the store digest (see linkstore.Digest).
//
// # Backends
//
//   - [FileCache]: JSON entries under a directory, used by the CLI
//   - [RedisCache]: a shared Redis instance, for repeated runs across hosts
//   - [NullCache]: caching disabled
//
// # Keys
//
// A [Keyer] derives keys from result parameters. [ScopedKeyer] prefixes every
// key, which keeps separate datasets or environments apart in one backend.
package cache

import (
	"context"
	"time"
)

// Default lifetimes. Derived results never go stale for the same store
// digest, so the TTLs only bound disk or memory use.
const (
	CyclesTTL = 30 * 24 * time.Hour
	BasinTTL  = 7 * 24 * time.Hour
)

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	// Get returns the value for key. hit is false on a miss or expiry.
	Get(ctx context.Context, key string) (data []byte, hit bool, err error)

	// Set stores data under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// CyclesKeyOpts are the index options that change cycle discovery.
type CyclesKeyOpts struct {
	DanglingAsHalt bool `json:"dangling_as_halt"`
}

// BasinKeyOpts are the budgets that change a basin map.
type BasinKeyOpts struct {
	MaxDepth int `json:"max_depth"`
	MaxRows  int `json:"max_rows"`
}

// Keyer derives cache keys.
type Keyer interface {
	// CyclesKey is the key of the cycle list of one store at one N.
	CyclesKey(storeDigest string, n int, opts CyclesKeyOpts) string

	// BasinKey is the key of one basin map.
	BasinKey(storeDigest string, n int, cycleKey string, opts BasinKeyOpts) string
}

// DefaultKeyer hashes every key component, so keys have a fixed length
// whatever the cycle or digest.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// CyclesKey implements Keyer.
func (DefaultKeyer) CyclesKey(storeDigest string, n int, opts CyclesKeyOpts) string {
	return hashKey("cycles", storeDigest, n, opts)
}

// BasinKey implements Keyer.
func (DefaultKeyer) BasinKey(storeDigest string, n int, cycleKey string, opts BasinKeyOpts) string {
	return hashKey("basin", storeDigest, n, cycleKey, opts)
}
