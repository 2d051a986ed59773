package errors

import (
	"slices"
	"strconv"
	"strings"
	"unicode"
)

// MaxN is the largest link position accepted for an N-link rule. Pages with
// more links than this are vanishingly rare and larger values only produce
// all-HALT indices.
const MaxN = 10000

// ValidateN validates a single link position.
func ValidateN(n int) error {
	if n < 1 {
		return New(ErrCodeInvalidInput, "n must be >= 1, got %d", n)
	}
	if n > MaxN {
		return New(ErrCodeInvalidInput, "n too large (max %d), got %d", MaxN, n)
	}
	return nil
}

// ParseNRange parses a comma-separated list of N values and inclusive ranges
// such as "1-5,7,10-12". The result is sorted ascending with duplicates removed.
func ParseNRange(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, New(ErrCodeInvalidInput, "n range cannot be empty")
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, New(ErrCodeInvalidInput, "invalid n value %q", part)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, New(ErrCodeInvalidInput, "invalid n range %q", part)
			}
		}
		if b < a {
			return nil, New(ErrCodeInvalidInput, "descending n range %q", part)
		}
		for n := a; n <= b; n++ {
			if err := ValidateN(n); err != nil {
				return nil, err
			}
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, New(ErrCodeInvalidInput, "n range %q has no values", s)
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

// ValidateBudget checks depth and row caps. Zero means unlimited.
func ValidateBudget(maxDepth, maxRows int) error {
	if maxDepth < 0 {
		return New(ErrCodeInvalidInput, "max depth must be >= 0, got %d", maxDepth)
	}
	if maxRows < 0 {
		return New(ErrCodeInvalidInput, "max rows must be >= 0, got %d", maxRows)
	}
	return nil
}

// ValidateURI validates a connection string for safety.
// It ensures the URI uses one of the allowed schemes and carries no control
// characters.
func ValidateURI(raw string, schemes ...string) error {
	if raw == "" {
		return New(ErrCodeInvalidInput, "URI cannot be empty")
	}

	for _, r := range raw {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "URI contains invalid control characters")
		}
	}

	scheme, _, ok := strings.Cut(raw, "://")
	if !ok {
		return New(ErrCodeInvalidInput, "URI must include a scheme (%s)", strings.Join(schemes, ", "))
	}
	if len(schemes) > 0 && !slices.Contains(schemes, scheme) {
		return New(ErrCodeInvalidInput, "unsupported URI scheme %q (must be one of: %s)", scheme, strings.Join(schemes, ", "))
	}

	return nil
}

// ValidateCycleKey validates the textual identity of a canonical cycle
// ("12-40-77"): dash-separated non-negative integers.
func ValidateCycleKey(key string) error {
	if key == "" {
		return New(ErrCodeInvalidCycle, "cycle key cannot be empty")
	}
	for _, part := range strings.Split(key, "-") {
		if part == "" {
			return New(ErrCodeInvalidCycle, "cycle key %q has an empty member", key)
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return New(ErrCodeInvalidCycle, "cycle key %q contains invalid characters", key)
			}
		}
	}
	return nil
}
