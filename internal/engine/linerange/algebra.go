package linerange

import (
	"cmp"
	"slices"
	"time"
)

// ContainsLine returns true if any range covers line.
func ContainsLine[R Ranged](ranges []R, line int) bool {
	mustBeValid("ContainsLine", ranges)
	for _, r := range ranges {
		start, end := r.Bounds()
		if line >= start && line <= end {
			return true
		}
	}
	return false
}

// UniqueLineCount returns the number of distinct lines covered by ranges.
// Overlapping ranges are not double-counted.
func UniqueLineCount[R Ranged](ranges []R) int {
	mustBeValid("UniqueLineCount", ranges)
	total := 0
	for _, r := range Normalize(Plain(ranges)) {
		total += r.Len()
	}
	return total
}

// AllUniqueLines returns every covered line in ascending order without
// duplicates.
func AllUniqueLines[R Ranged](ranges []R) []int {
	mustBeValid("AllUniqueLines", ranges)
	merged := Normalize(Plain(ranges))
	n := 0
	for _, r := range merged {
		n += r.Len()
	}
	lines := make([]int, 0, n)
	for _, r := range merged {
		for line := r.Start; line <= r.End; line++ {
			lines = append(lines, line)
		}
	}
	return lines
}

// RemoveLine removes a single line from every range. Ranges that do not
// cover line are returned unchanged; a single-line range equal to line is
// dropped; a line on an edge shrinks the range; an interior line splits it.
func RemoveLine[R Ranged](ranges []R, line int, clone CloneFunc[R]) []R {
	mustBeValid("RemoveLine", ranges)
	out := make([]R, 0, len(ranges)+1)
	for _, r := range ranges {
		start, end := r.Bounds()
		switch {
		case line < start || line > end:
			out = append(out, r)
		case start == end:
			// the whole range was this line
		case line == start:
			out = append(out, clone(r, start+1, end))
		case line == end:
			out = append(out, clone(r, start, end-1))
		default:
			out = append(out, clone(r, start, line-1), clone(r, line+1, end))
		}
	}
	return out
}

// RemoveRange removes the lines [removeStart, removeEnd] from every range in
// a single pass. Each range keeps whatever lies outside the removed span: a
// left remainder, a right remainder, both (split) or nothing (dropped).
func RemoveRange[R Ranged](ranges []R, removeStart, removeEnd int, clone CloneFunc[R]) []R {
	mustBeValid("RemoveRange", ranges)
	if removeStart > removeEnd {
		panic(&InvalidRangeError{Op: "RemoveRange", Start: removeStart, End: removeEnd})
	}

	out := make([]R, 0, len(ranges)+1)
	for _, r := range ranges {
		start, end := r.Bounds()
		if end < removeStart || start > removeEnd {
			out = append(out, r)
			continue
		}
		if start < removeStart {
			out = append(out, clone(r, start, removeStart-1))
		}
		if end > removeEnd {
			out = append(out, clone(r, removeEnd+1, end))
		}
	}
	return out
}

// LinesSince returns the unique line count of the ranges marked at or after
// since.
func LinesSince(ranges []Timestamped, since time.Time) int {
	recent := make([]Timestamped, 0, len(ranges))
	for _, r := range ranges {
		if !r.MarkedAt.Before(since) {
			recent = append(recent, r)
		}
	}
	return UniqueLineCount(recent)
}

// Normalize sorts ranges by start and merges ranges that overlap or touch.
// The input slice is not modified.
func Normalize(ranges []Range) []Range {
	mustBeValid("Normalize", ranges)
	if len(ranges) == 0 {
		return nil
	}

	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b Range) int {
		return cmp.Compare(a.Start, b.Start)
	})

	merged := sorted[:1]
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			last.End = max(last.End, r.End)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Equal returns true if both sequences have the same bounds in the same
// order. Payloads are not compared.
func Equal[R Ranged](a, b []R) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		as, ae := a[i].Bounds()
		bs, be := b[i].Bounds()
		if as != bs || ae != be {
			return false
		}
	}
	return true
}
