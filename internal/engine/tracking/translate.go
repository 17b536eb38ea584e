package tracking

import "github.com/dshills/linemark/internal/engine/linerange"

// TranslateBounds moves the 1-indexed, inclusive range [start, end] across
// an edit. The result is never below line 1 and never inverted.
func TranslateBounds(start, end int, e Edit) (int, int) {
	delta := e.Delta()
	if delta == 0 {
		return start, end
	}

	// First touched line, 1-indexed.
	editStart := e.StartLine + 1

	if delta > 0 {
		switch {
		case editStart <= start:
			start += delta
			end += delta
		case editStart <= end:
			end += delta
		}
		return start, end
	}

	deleted := -delta
	delStart := editStart
	delEnd := e.StartLine + e.RemovedLines()

	switch {
	case delEnd < start:
		start += delta
		end += delta
	case delStart > end:
		// edit is entirely after the range
	case delStart <= start && delEnd >= end:
		start = max(1, editStart)
		end = start
	case delStart <= start:
		surviving := end - delEnd
		start = max(1, editStart)
		end = max(start, start+surviving-1)
	case delEnd >= end:
		end = max(start, e.StartLine)
	default:
		end = max(start, end-deleted)
	}

	start = max(1, start)
	end = max(start, end)
	return start, end
}

// TranslateRange moves a single Range across an edit.
func TranslateRange(r linerange.Range, e Edit) linerange.Range {
	start, end := TranslateBounds(r.Start, r.End, e)
	return linerange.Range{Start: start, End: end}
}

// Translate moves every range across an edit. It reports whether any range
// changed; when nothing changed the input slice is returned as is.
func Translate[R linerange.Ranged](ranges []R, e Edit, clone linerange.CloneFunc[R]) ([]R, bool) {
	if e.Delta() == 0 || len(ranges) == 0 {
		return ranges, false
	}

	var out []R
	for i, r := range ranges {
		start, end := r.Bounds()
		ns, ne := TranslateBounds(start, end, e)
		if ns == start && ne == end {
			if out != nil {
				out = append(out, r)
			}
			continue
		}
		if out == nil {
			out = make([]R, i, len(ranges))
			copy(out, ranges[:i])
		}
		out = append(out, clone(r, ns, ne))
	}

	if out == nil {
		return ranges, false
	}
	return out, true
}

// TranslateAll applies a sequence of edits in order.
func TranslateAll[R linerange.Ranged](ranges []R, edits []Edit, clone linerange.CloneFunc[R]) ([]R, bool) {
	changed := false
	for _, e := range edits {
		var c bool
		ranges, c = Translate(ranges, e, clone)
		changed = changed || c
	}
	return ranges, changed
}
