// Package tracking translates line ranges across document edits.
//
// The host reports every document mutation as an [Edit]: the 0-indexed lines
// [StartLine, EndLine] were replaced by text containing InsertedLines newline
// characters. [Translate] moves each 1-indexed, inclusive range so it keeps
// denoting the same logical lines afterwards.
//
// # Rules
//
// When the edit does not change the line count nothing moves. A net
// insertion shifts ranges that start at or after the edit and grows ranges
// that contain it. A net deletion shifts ranges after the deleted span,
// trims ranges it overlaps, and collapses ranges it swallows to a
// single-line anchor at the deletion point, so an annotation never
// disappears because of an edit.
//
// # Usage
//
//	edit := tracking.NewEdit("main.go", 4, 4, "a\nb\nc\n")
//	ranges, changed := tracking.Translate(ranges, edit, linerange.Range.WithBounds)
//
// Translation is pure arithmetic on each range and is safe to call from any
// goroutine.
package tracking
