// Package annotation keeps user annotations anchored to lines of documents.
//
// An annotation [Record] (sticky note, diagnostic, highlight, greyout or
// read mark) owns one or more 1-indexed, inclusive line ranges in a single
// document. The [Tracker] is the entry point for hosts:
//
//   - OnEdit moves the ranges of every record in the edited document.
//   - MarkRange folds a new range into a record through the merge window.
//   - UnmarkLine and UnmarkRange cut lines out of a record; a record left
//     with no ranges is deleted.
//   - IsLineMarked, UniqueMarkedLineCount and MarkedLineCountSince answer
//     queries.
//
// # Persistence
//
// Records of each kind are serialized into one blob per tool name and
// persisted through a [blobstore.Store]. Mutations only mark records dirty;
// a write-behind cache flushes them after a quiet period. Call Close on
// shutdown to force pending writes through.
//
// Documents are loaded lazily. Evict drops a document from memory after
// flushing it, and the next operation on that document reloads it from the
// store before applying anything.
//
// # Thread Safety
//
// Tracker methods are safe for concurrent use. Hosts normally deliver
// events serially; the lock exists because background flushes run on timer
// goroutines.
package annotation
