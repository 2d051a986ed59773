package cache

// ScopedKeyer wraps a Keyer with a prefix.
// This keeps results of separate datasets or environments apart when they
// share one backend, typically Redis.
//
// Example usage:
//
//	enwiki := NewScopedKeyer(NewDefaultKeyer(), "enwiki:")
//	dewiki := NewScopedKeyer(NewDefaultKeyer(), "dewiki:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// CyclesKey generates a prefixed key for a cycle list.
func (k *ScopedKeyer) CyclesKey(storeDigest string, n int, opts CyclesKeyOpts) string {
	return k.prefix + k.inner.CyclesKey(storeDigest, n, opts)
}

// BasinKey generates a prefixed key for a basin map.
func (k *ScopedKeyer) BasinKey(storeDigest string, n int, cycleKey string, opts BasinKeyOpts) string {
	return k.prefix + k.inner.BasinKey(storeDigest, n, cycleKey, opts)
}
