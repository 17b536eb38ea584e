package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Errors returned by blob stores.
var (
	// ErrInvalidBlob indicates the blob is not valid JSON.
	ErrInvalidBlob = errors.New("blob is not valid JSON")

	// ErrEmptyTool indicates an empty tool name.
	ErrEmptyTool = errors.New("tool name is empty")

	// ErrUnsupportedBackend indicates an unknown backend name.
	ErrUnsupportedBackend = errors.New("unsupported store backend")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// Store reads and writes blobs keyed by tool name.
type Store interface {
	// Get returns the blob stored for tool, or nil if there is none.
	Get(ctx context.Context, tool string) ([]byte, error)

	// Set replaces the blob stored for tool.
	Set(ctx context.Context, tool string, data []byte) error

	// Close releases resources held by the store.
	Close() error
}

// Backend names a store implementation.
type Backend string

// Supported backends.
const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Open creates a store for backend. location is a file path for the file
// backend and a database URL for the SQL backends; it is ignored for memory.
func Open(ctx context.Context, backend Backend, location string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(location, WithFileLogger(logger))
	case BackendSQLite, BackendPostgres:
		return OpenSQL(ctx, location, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, backend)
	}
}

// MemoryStore keeps blobs in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tool string) ([]byte, error) {
	if tool == "" {
		return nil, ErrEmptyTool
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	data, ok := s.blobs[tool]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, tool string, data []byte) error {
	if tool == "" {
		return ErrEmptyTool
	}
	if !validJSON(data) {
		return ErrInvalidBlob
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.blobs[tool] = append([]byte(nil), data...)
	return nil
}

// Tools returns the tool names with a stored blob.
func (s *MemoryStore) Tools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]string, 0, len(s.blobs))
	for t := range s.blobs {
		tools = append(tools, t)
	}
	return tools
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
