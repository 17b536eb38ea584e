// Package linerange provides line ranges and the interval algebra used to
// keep annotations attached to whole lines of a document.
//
// All line numbers are 1-indexed and both bounds are inclusive, so the
// range [3, 5] covers lines 3, 4 and 5.
//
// # Ranged Values
//
// The algebra functions are generic over [Ranged], a value that reports its
// bounds. Operations that produce new ranges take a clone function that
// copies a value with new bounds, so any payload the caller attaches (a
// timestamp, a color) survives a split or shrink:
//
//	ranges := []linerange.Range{{Start: 1, End: 15}}
//	out := linerange.RemoveRange(ranges, 3, 12, linerange.Range.WithBounds)
//	// out == [{1 2} {13 15}]
//
// # Invalid Input
//
// A range with Start > End is a programming error. The algebra panics with an
// [*InvalidRangeError] instead of repairing the input.
package linerange
