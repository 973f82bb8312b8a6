package autolayer

import "sort"

// smallSetThreshold is the size above which lookups switch from a
// linear scan to binary search.
const smallSetThreshold = 8

// ExclusionSet answers whether a key position is exempt from the
// "any key cancels the layer" rule. Immutable after construction.
type ExclusionSet struct {
	positions []int
}

// NewExclusionSet builds a set from the given positions. The input is
// copied, sorted, and deduplicated; the caller's slice is not retained.
func NewExclusionSet(positions []int) *ExclusionSet {
	if len(positions) == 0 {
		return &ExclusionSet{}
	}

	sorted := make([]int, len(positions))
	copy(sorted, positions)
	sort.Ints(sorted)

	// Compact duplicates in place.
	out := sorted[:1]
	for _, p := range sorted[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}

	return &ExclusionSet{positions: out}
}

// Contains reports whether position is in the set. The empty set
// contains nothing.
func (s *ExclusionSet) Contains(position int) bool {
	n := len(s.positions)
	if n == 0 {
		return false
	}

	if n > smallSetThreshold {
		i := sort.SearchInts(s.positions, position)
		return i < n && s.positions[i] == position
	}

	// Linear scan wins for small sets.
	for _, p := range s.positions {
		if p == position {
			return true
		}
	}
	return false
}

// Len returns the number of positions in the set.
func (s *ExclusionSet) Len() int {
	return len(s.positions)
}

// Positions returns a copy of the sorted positions, for status reporting.
func (s *ExclusionSet) Positions() []int {
	out := make([]int, len(s.positions))
	copy(out, s.positions)
	return out
}
