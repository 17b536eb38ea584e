package tracking

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEdit indicates an edit with negative or inverted line numbers.
var ErrInvalidEdit = errors.New("invalid edit")

// ChangeType categorizes an edit by its effect on the line count.
type ChangeType uint8

const (
	// ChangeInPlace indicates the line count did not change.
	ChangeInPlace ChangeType = iota

	// ChangeInsert indicates lines were added.
	ChangeInsert

	// ChangeDelete indicates lines were removed.
	ChangeDelete
)

// String returns a human-readable representation of the change type.
func (ct ChangeType) String() string {
	switch ct {
	case ChangeInPlace:
		return "in-place"
	case ChangeInsert:
		return "insert"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Edit is one atomic document mutation at line granularity.
type Edit struct {
	// Path identifies the edited document.
	Path string

	// StartLine is the 0-indexed first line touched by the edit.
	StartLine int

	// EndLine is the 0-indexed last line touched by the edit.
	// EndLine - StartLine lines were removed.
	EndLine int

	// InsertedLines is the number of newline characters in the new text.
	InsertedLines int
}

// NewEdit creates an edit replacing lines [startLine, endLine] with text.
func NewEdit(path string, startLine, endLine int, text string) Edit {
	return Edit{
		Path:          path,
		StartLine:     startLine,
		EndLine:       endLine,
		InsertedLines: strings.Count(text, "\n"),
	}
}

// NewInsertEdit creates an edit that inserts count lines at line.
func NewInsertEdit(path string, line, count int) Edit {
	return Edit{Path: path, StartLine: line, EndLine: line, InsertedLines: count}
}

// NewDeleteEdit creates an edit that removes the 0-indexed lines
// [startLine, endLine) entirely.
func NewDeleteEdit(path string, startLine, endLine int) Edit {
	return Edit{Path: path, StartLine: startLine, EndLine: endLine}
}

// RemovedLines returns the number of line breaks removed by the edit.
func (e Edit) RemovedLines() int {
	return e.EndLine - e.StartLine
}

// Delta returns the net change in line count.
// Positive means the document grew, negative means it shrank.
func (e Edit) Delta() int {
	return e.InsertedLines - e.RemovedLines()
}

// Type classifies the edit by its net effect.
func (e Edit) Type() ChangeType {
	switch d := e.Delta(); {
	case d > 0:
		return ChangeInsert
	case d < 0:
		return ChangeDelete
	default:
		return ChangeInPlace
	}
}

// Validate reports whether the edit is well formed.
func (e Edit) Validate() error {
	if e.StartLine < 0 || e.EndLine < e.StartLine || e.InsertedLines < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEdit, e)
	}
	return nil
}

// String returns a human-readable representation of the edit.
func (e Edit) String() string {
	return fmt.Sprintf("%s lines [%d,%d] +%d (%s %+d)",
		e.Path, e.StartLine, e.EndLine, e.InsertedLines, e.Type(), e.Delta())
}
