package annotation

import "errors"

// Errors returned by annotation operations.
var (
	// ErrRecordNotFound indicates no record has the given ID.
	ErrRecordNotFound = errors.New("annotation record not found")

	// ErrInvalidRange indicates a range with start < 1 or start > end.
	ErrInvalidRange = errors.New("invalid line range")

	// ErrInvalidRecord indicates a record that cannot be stored.
	ErrInvalidRecord = errors.New("invalid annotation record")

	// ErrUnknownKind indicates an unrecognized annotation kind.
	ErrUnknownKind = errors.New("unknown annotation kind")

	// ErrDocumentDirty indicates a document still has unflushed changes.
	ErrDocumentDirty = errors.New("document has unflushed changes")

	// ErrPathExists indicates a rename target already has annotations.
	ErrPathExists = errors.New("target path already has annotations")
)
