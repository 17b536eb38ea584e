package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FileStore keeps every tool's blob under its own key in one JSON document.
type FileStore struct {
	mu          sync.Mutex
	path        string
	perm        os.FileMode
	lastWritten []byte
	closed      bool
	logger      *slog.Logger
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithFileLogger sets the logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFileMode sets the permission bits for the state file.
func WithFileMode(perm os.FileMode) FileOption {
	return func(s *FileStore) {
		s.perm = perm
	}
}

// NewFileStore creates a store backed by the JSON document at path.
// The file and its directory are created on first write.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}

	s := &FileStore{
		path:   abs,
		perm:   0o644,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the absolute path of the state file.
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, tool string) ([]byte, error) {
	if tool == "" {
		return nil, ErrEmptyTool
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(doc, escapeKey(tool))
	if !res.Exists() {
		return nil, nil
	}
	return []byte(res.Raw), nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, tool string, data []byte) error {
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

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		doc = []byte("{}")
	}
	doc, err = sjson.SetRawBytes(doc, escapeKey(tool), data)
	if err != nil {
		return fmt.Errorf("set %s: %w", tool, err)
	}
	return s.writeLocked(doc)
}

// Tools returns the tool names present in the document.
func (s *FileStore) Tools() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	var tools []string
	gjson.ParseBytes(doc).ForEach(func(key, _ gjson.Result) bool {
		tools = append(tools, key.String())
		return true
	})
	return tools, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Watch calls onChange whenever another process rewrites the state file.
// It blocks until ctx is done. Writes made through this store are ignored.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	// Watch the directory: atomic renames replace the file's inode.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if s.isOwnWrite() {
				continue
			}
			s.logger.Debug("state file changed externally", "path", s.path, "op", ev.Op.String())
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("state file watch error", "error", err)
		}
	}
}

func (s *FileStore) isOwnWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	return s.lastWritten != nil && bytes.Equal(data, s.lastWritten)
}

func (s *FileStore) readLocked() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("read %s: %w", s.path, ErrInvalidBlob)
	}
	return data, nil
}

func (s *FileStore) writeLocked(doc []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := os.Chmod(tmpName, s.perm); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", s.path, err)
	}

	s.lastWritten = doc
	return nil
}

var keyEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
)

// escapeKey makes tool safe to use as a single gjson/sjson path component.
func escapeKey(tool string) string {
	return keyEscaper.Replace(tool)
}

func validJSON(data []byte) bool {
	return gjson.ValidBytes(data)
}
