// Package coalesce folds newly marked line ranges into recently marked,
// neighbouring ranges of the same record.
//
// Merging is greedy and one-sided: only the incoming range is compared with
// existing ranges, never existing ranges with each other. An existing range
// is absorbed when it was marked within the merge window of the incoming
// range and overlaps or touches the bounds merged so far. A zero window
// disables merging.
package coalesce

import (
	"time"

	"github.com/dshills/linemark/internal/engine/linerange"
)

// DefaultWindow is the default merge window.
const DefaultWindow = 5 * time.Minute

// Result describes the outcome of a merge.
type Result struct {
	// Ranges is the new range sequence for the record.
	Ranges []linerange.Timestamped

	// Merged is the range that was appended.
	Merged linerange.Timestamped

	// Absorbed is the number of existing ranges folded into Merged.
	Absorbed int
}

// Coalescer merges incoming ranges into existing ones.
type Coalescer struct {
	window time.Duration
}

// New creates a Coalescer with the given merge window.
// Negative windows are treated as zero.
func New(window time.Duration) *Coalescer {
	return &Coalescer{window: max(window, 0)}
}

// Window returns the merge window.
func (c *Coalescer) Window() time.Duration {
	return c.window
}

// Merge folds incoming into existing and returns the resulting sequence.
// Existing ranges that are not absorbed keep their order; the merged range
// is appended last. The existing slice is not modified.
func (c *Coalescer) Merge(existing []linerange.Timestamped, incoming linerange.Timestamped) Result {
	if incoming.Start > incoming.End {
		panic(&linerange.InvalidRangeError{Op: "Merge", Start: incoming.Start, End: incoming.End})
	}

	out := make([]linerange.Timestamped, 0, len(existing)+1)
	if c.window == 0 {
		out = append(out, existing...)
		out = append(out, incoming)
		return Result{Ranges: out, Merged: incoming}
	}

	merged := incoming
	absorbed := 0
	for _, r := range existing {
		if c.within(r.MarkedAt, incoming.MarkedAt) && r.Touches(merged.Range) {
			merged.Start = min(merged.Start, r.Start)
			merged.End = max(merged.End, r.End)
			absorbed++
			continue
		}
		out = append(out, r)
	}
	out = append(out, merged)

	return Result{Ranges: out, Merged: merged, Absorbed: absorbed}
}

func (c *Coalescer) within(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= c.window
}
