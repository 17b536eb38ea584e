package linerange

import "fmt"

// InvalidRangeError reports a range whose start is after its end.
type InvalidRangeError struct {
	Op    string
	Start int
	End   int
}

// Error implements the error interface.
func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("linerange: %s: invalid range [%d,%d]", e.Op, e.Start, e.End)
}

// mustBeValid panics if any range is inverted.
func mustBeValid[R Ranged](op string, ranges []R) {
	for _, r := range ranges {
		start, end := r.Bounds()
		if start > end {
			panic(&InvalidRangeError{Op: op, Start: start, End: end})
		}
	}
}
