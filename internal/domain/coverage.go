package domain

import (
	"fmt"
	"sort"
)

// CoverageRange is a closed interval [Start, End] of Unix seconds for which
// data has been successfully fetched and stored. A range covers every
// sampling instant inside it even when the market produced no bar there
// (holidays, halts), which is what makes incremental planning sound.
type CoverageRange struct {
	Start int64 `yaml:"start"`
	End   int64 `yaml:"end"`
}

// Contains reports whether ts lies inside the closed interval.
func (r CoverageRange) Contains(ts int64) bool { return ts >= r.Start && ts <= r.End }

// Empty reports whether the range covers nothing.
func (r CoverageRange) Empty() bool { return r.End < r.Start }

func (r CoverageRange) String() string { return fmt.Sprintf("[%d,%d]", r.Start, r.End) }

// CoverageList is an ordered set of disjoint CoverageRanges. Ranges whose
// gap is at most one sampling unit are coalesced on merge, so the list
// never contains internal gaps smaller than one unit.
type CoverageList []CoverageRange

// Validate checks the structural invariant: sorted ascending, disjoint,
// and each range non-empty. A violation means the store metadata is
// corrupt; callers must treat it as an integrity error, not repair it.
func (c CoverageList) Validate() error {
	for i, r := range c {
		if r.Empty() {
			return fmt.Errorf("coverage range %d is empty: %s", i, r)
		}
		if i > 0 && r.Start <= c[i-1].End {
			return fmt.Errorf("coverage ranges %d and %d overlap or are unsorted: %s, %s", i-1, i, c[i-1], r)
		}
	}
	return nil
}

// Merge returns a new list with r merged in. Overlapping or adjacent
// ranges (gap of at most unit seconds) are coalesced.
func (c CoverageList) Merge(r CoverageRange, unit int64) CoverageList {
	if r.Empty() {
		out := make(CoverageList, len(c))
		copy(out, c)
		return out
	}

	all := make(CoverageList, 0, len(c)+1)
	all = append(all, c...)
	all = append(all, r)
	sort.Slice(all, func(i, j int) bool { return all[i].Start < all[j].Start })

	out := CoverageList{all[0]}
	for _, next := range all[1:] {
		last := &out[len(out)-1]
		if next.Start <= last.End+unit {
			if next.End > last.End {
				last.End = next.End
			}
			continue
		}
		out = append(out, next)
	}
	return out
}

// Subtract returns the portions of [start, end] not covered by the list,
// as a minimal ordered set of disjoint closed ranges.
func (c CoverageList) Subtract(start, end int64) CoverageList {
	if end < start {
		return nil
	}

	var missing CoverageList
	cursor := start
	for _, r := range c {
		if r.End < cursor {
			continue
		}
		if r.Start > end {
			break
		}
		if r.Start > cursor {
			missing = append(missing, CoverageRange{Start: cursor, End: r.Start - 1})
		}
		if r.End >= cursor {
			cursor = r.End + 1
		}
		if cursor > end {
			return missing
		}
	}
	if cursor <= end {
		missing = append(missing, CoverageRange{Start: cursor, End: end})
	}
	return missing
}

// Covers reports whether [start, end] is fully covered.
func (c CoverageList) Covers(start, end int64) bool {
	return len(c.Subtract(start, end)) == 0
}

// Span returns the overall [min, max] extent, or an empty range when the
// list is empty.
func (c CoverageList) Span() CoverageRange {
	if len(c) == 0 {
		return CoverageRange{Start: 1, End: 0}
	}
	return CoverageRange{Start: c[0].Start, End: c[len(c)-1].End}
}
