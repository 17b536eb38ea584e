package annotation

import (
	"fmt"
	"slices"
	"time"

	"github.com/dshills/linemark/internal/engine/linerange"
)

// Record is one annotation anchored to ranges of a single document.
// A persisted record always has at least one range.
type Record struct {
	ID        string                  `json:"id"`
	Kind      Kind                    `json:"kind"`
	Path      string                  `json:"filePath"`
	Ranges    []linerange.Timestamped `json:"ranges"`
	Text      string                  `json:"text,omitempty"`
	Color     string                  `json:"color,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// RecordOption sets optional record fields on creation.
type RecordOption func(*Record)

// WithText sets the note body or diagnostic message.
func WithText(text string) RecordOption {
	return func(r *Record) {
		r.Text = text
	}
}

// WithColor sets the display color.
func WithColor(color string) RecordOption {
	return func(r *Record) {
		r.Color = color
	}
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Ranges = slices.Clone(r.Ranges)
	return r
}

// Validate checks the record can be stored.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case !r.Kind.IsValid():
		return fmt.Errorf("%w: %s: %w", ErrInvalidRecord, r.ID, ErrUnknownKind)
	case r.Path == "":
		return fmt.Errorf("%w: %s: empty path", ErrInvalidRecord, r.ID)
	case len(r.Ranges) == 0:
		return fmt.Errorf("%w: %s: no ranges", ErrInvalidRecord, r.ID)
	}
	for _, rg := range r.Ranges {
		if !rg.IsValid() {
			return fmt.Errorf("%w: %s: range %s", ErrInvalidRecord, r.ID, rg.Range)
		}
	}
	return nil
}

// Covers returns true if any range of the record covers line.
func (r Record) Covers(line int) bool {
	return linerange.ContainsLine(r.Ranges, line)
}

// LineCount returns the number of distinct lines the record covers.
func (r Record) LineCount() int {
	return linerange.UniqueLineCount(r.Ranges)
}

// Lines returns the covered lines in ascending order.
func (r Record) Lines() []int {
	return linerange.AllUniqueLines(r.Ranges)
}

func validateBounds(start, end int) error {
	if start < 1 || start > end {
		return fmt.Errorf("%w: [%d,%d]", ErrInvalidRange, start, end)
	}
	return nil
}
