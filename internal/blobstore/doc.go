// Package blobstore persists serialized annotation state as opaque blobs
// keyed by tool name.
//
// Every backend offers the same two primitives: read the current blob for a
// tool and replace it. Callers own the blob format; the stores only require
// it to be valid JSON so the file backend can embed it in one document.
//
// # Backends
//
//   - [MemoryStore]: process-local map, used in tests and dry runs.
//   - [FileStore]: a single JSON document on disk with one top-level key per
//     tool. Writes are atomic (temp file + rename). [FileStore.Watch]
//     reports changes made by other processes.
//   - [SQLStore]: a table in SQLite or PostgreSQL managed through GORM.
//
// Use [Open] to construct a backend from configuration values.
package blobstore
