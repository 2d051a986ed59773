package trace

import (
	"slices"
	"strconv"
	"strings"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
	"github.com/matzehuels/nlink/pkg/linkstore"
)

// Cycle is a cycle of the successor function in canonical rotation: the
// first member is the smallest id and each member's successor is the next
// one, wrapping around.
type Cycle []linkstore.NodeID

// Canonicalize rotates members so the smallest id comes first. The input is
// not modified. Members of a functional-graph cycle are distinct, so the
// rotation is unique; should duplicates appear anyway the lexicographically
// smallest rotation wins.
func Canonicalize(members []linkstore.NodeID) Cycle {
	if len(members) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(members); i++ {
		if members[i] < members[best] ||
			(members[i] == members[best] && rotationLess(members, i, best)) {
			best = i
		}
	}
	out := make(Cycle, 0, len(members))
	out = append(out, members[best:]...)
	return append(out, members[:best]...)
}

// rotationLess reports whether the rotation starting at i sorts before the
// rotation starting at j.
func rotationLess(m []linkstore.NodeID, i, j int) bool {
	for k := range m {
		a, b := m[(i+k)%len(m)], m[(j+k)%len(m)]
		if a != b {
			return a < b
		}
	}
	return false
}

// Key returns the stable textual identity of the cycle, e.g. "12-40-77".
func (c Cycle) Key() string {
	var b strings.Builder
	for i, id := range c {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(strconv.FormatInt(int64(id), 10))
	}
	return b.String()
}

// Len returns the number of members.
func (c Cycle) Len() int { return len(c) }

// Contains reports whether id is a member.
func (c Cycle) Contains(id linkstore.NodeID) bool { return slices.Contains(c, id) }

// Equal reports whether two cycles have the same members in the same order.
func (c Cycle) Equal(o Cycle) bool { return slices.Equal(c, o) }

// ParseKey parses a cycle key back into a canonical cycle. A key listing the
// members in a non-canonical rotation is accepted and canonicalized; repeated
// members are rejected.
func ParseKey(key string) (Cycle, error) {
	if err := nlerrors.ValidateCycleKey(key); err != nil {
		return nil, err
	}
	parts := strings.Split(key, "-")
	members := make([]linkstore.NodeID, len(parts))
	seen := make(map[linkstore.NodeID]bool, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, nlerrors.Wrap(nlerrors.ErrCodeInvalidCycle, err, "cycle key %q", key)
		}
		id := linkstore.NodeID(v)
		if seen[id] {
			return nil, nlerrors.New(nlerrors.ErrCodeInvalidCycle, "cycle key %q repeats member %d", key, id)
		}
		seen[id] = true
		members[i] = id
	}
	return Canonicalize(members), nil
}

// Validate checks that c is a non-empty cycle of idx: every member's
// successor is the next member and the last member leads back to the first.
// Failures are INVALID_CYCLE, or the index's own error for unknown members.
func Validate(idx Successor, c Cycle) error {
	if len(c) == 0 {
		return nlerrors.New(nlerrors.ErrCodeInvalidCycle, "cycle is empty")
	}
	for i, id := range c {
		want := c[(i+1)%len(c)]
		next, ok, err := idx.Successor(id)
		if err != nil {
			return err
		}
		if !ok {
			return nlerrors.New(nlerrors.ErrCodeInvalidCycle,
				"cycle %s: member %d halts", c.Key(), id)
		}
		if next != want {
			return nlerrors.New(nlerrors.ErrCodeInvalidCycle,
				"cycle %s: successor of %d is %d, not %d", c.Key(), id, next, want)
		}
	}
	return nil
}
