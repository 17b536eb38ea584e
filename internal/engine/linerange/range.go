package linerange

import (
	"fmt"
	"time"
)

// Ranged is implemented by values that cover an inclusive block of lines.
type Ranged interface {
	Bounds() (start, end int)
}

// CloneFunc returns a copy of r with new bounds.
type CloneFunc[R Ranged] func(r R, start, end int) R

// Range is an inclusive, 1-indexed block of lines: [Start, End].
type Range struct {
	Start int `json:"startLine"`
	End   int `json:"endLine"`
}

// New creates a Range covering start through end.
func New(start, end int) Range {
	return Range{Start: start, End: end}
}

// Single creates a Range covering exactly one line.
func Single(line int) Range {
	return Range{Start: line, End: line}
}

// Bounds implements Ranged.
func (r Range) Bounds() (int, int) {
	return r.Start, r.End
}

// WithBounds returns a copy of r with new bounds.
func (r Range) WithBounds(start, end int) Range {
	return Range{Start: start, End: end}
}

// String returns a human-readable representation of the range.
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// Len returns the number of lines covered.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// IsValid returns true if Start <= End and Start is a real line number.
func (r Range) IsValid() bool {
	return r.Start >= 1 && r.Start <= r.End
}

// Contains returns true if line is within the range.
func (r Range) Contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// Overlaps returns true if the two ranges share at least one line.
func (r Range) Overlaps(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Touches returns true if the ranges overlap or sit directly next to each
// other, i.e. their union is contiguous.
func (r Range) Touches(other Range) bool {
	return r.Start <= other.End+1 && other.Start <= r.End+1
}

// Union returns the smallest range that contains both ranges.
func (r Range) Union(other Range) Range {
	return Range{Start: min(r.Start, other.Start), End: max(r.End, other.End)}
}

// Shift returns a new range shifted by delta lines.
func (r Range) Shift(delta int) Range {
	return Range{Start: r.Start + delta, End: r.End + delta}
}

// Timestamped is a Range plus the instant it was marked.
type Timestamped struct {
	Range
	MarkedAt time.Time `json:"markedAt"`
}

// NewTimestamped creates a Timestamped range.
func NewTimestamped(start, end int, markedAt time.Time) Timestamped {
	return Timestamped{Range: Range{Start: start, End: end}, MarkedAt: markedAt}
}

// WithBounds returns a copy of t with new bounds, keeping MarkedAt.
func (t Timestamped) WithBounds(start, end int) Timestamped {
	return Timestamped{Range: Range{Start: start, End: end}, MarkedAt: t.MarkedAt}
}

// String returns a human-readable representation of the range.
func (t Timestamped) String() string {
	return fmt.Sprintf("%s@%s", t.Range, t.MarkedAt.Format(time.RFC3339))
}

// Plain strips the payload from any ranged values.
func Plain[R Ranged](ranges []R) []Range {
	out := make([]Range, len(ranges))
	for i, r := range ranges {
		out[i].Start, out[i].End = r.Bounds()
	}
	return out
}
