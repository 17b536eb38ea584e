package annotation

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/linemark/internal/blobstore"
	"github.com/dshills/linemark/internal/engine/coalesce"
	"github.com/dshills/linemark/internal/engine/linerange"
	"github.com/dshills/linemark/internal/engine/tracking"
	"github.com/dshills/linemark/internal/writeback"
)

// recordKey identifies a dirty record. The path is carried so the tracker
// can tell which documents still have unflushed changes.
type recordKey struct {
	Kind Kind
	ID   string
	Path string
}

// Tracker keeps annotation records in step with document edits and
// persists them through a write-behind cache.
//
// Documents are loaded lazily: the first operation touching a path
// hydrates every record for that path from the blob store. Mutations mark
// records dirty; the cache flushes them after a quiet period, on Flush, or
// on Close.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	records *Store
	loaded  map[string]bool
	closed  bool

	blobs     blobstore.Store
	cache     *writeback.Cache[recordKey]
	coalescer *coalesce.Coalescer
	opts      trackerOptions
}

// NewTracker creates a tracker persisting to blobs.
func NewTracker(blobs blobstore.Store, opts ...Option) *Tracker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &Tracker{
		records:   NewStore(),
		loaded:    make(map[string]bool),
		blobs:     blobs,
		coalescer: coalesce.New(o.mergeWindow),
		opts:      o,
	}
	t.cache = writeback.New(t.flushKeys,
		writeback.WithDelay(o.flushDelay),
		writeback.WithLogger(o.logger),
		writeback.WithErrorHandler(o.onError),
		writeback.WithFlushHook(func(keys int, err error) {
			o.metrics.Flushed(keys, err)
			o.metrics.SetDirty(t.cache.Pending())
		}),
	)
	return t
}

// MergeWindow returns the coalescing window in use.
func (t *Tracker) MergeWindow() time.Duration {
	return t.coalescer.Window()
}

// Create adds a record of kind anchored to ranges of path. Every range is
// stamped with the current time.
func (t *Tracker) Create(ctx context.Context, kind Kind, path string, ranges []linerange.Range, opts ...RecordOption) (Record, error) {
	if !kind.IsValid() {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if path == "" {
		return Record{}, fmt.Errorf("%w: empty path", ErrInvalidRecord)
	}
	if len(ranges) == 0 {
		return Record{}, fmt.Errorf("%w: no ranges", ErrInvalidRange)
	}
	for _, r := range ranges {
		if err := validateBounds(r.Start, r.End); err != nil {
			return Record{}, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return Record{}, err
	}
	if err := t.ensureLoadedLocked(ctx, path); err != nil {
		return Record{}, err
	}

	now := t.opts.now()
	stamped := make([]linerange.Timestamped, len(ranges))
	for i, r := range ranges {
		stamped[i] = linerange.Timestamped{Range: r, MarkedAt: now}
	}
	return t.createLocked(kind, path, stamped, now, opts...)
}

// Get returns the record with id.
func (t *Tracker) Get(ctx context.Context, id string) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locateLocked(ctx, id)
}

// Records returns the records attached to path.
func (t *Tracker) Records(ctx context.Context, path string) ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoadedLocked(ctx, path); err != nil {
		return nil, err
	}
	return t.records.ForPath(path), nil
}

// Delete removes the record with id.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return err
	}
	rec, err := t.locateLocked(ctx, id)
	if err != nil {
		return err
	}
	t.records.Delete(id)
	return t.markDirtyLocked(keyOf(rec))
}

// MarkRange adds [start, end] marked at `at` to the record, coalescing it
// with recent adjacent ranges.
func (t *Tracker) MarkRange(ctx context.Context, id string, start, end int, at time.Time) error {
	if err := validateBounds(start, end); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return err
	}
	rec, err := t.locateLocked(ctx, id)
	if err != nil {
		return err
	}
	_, err = t.markRangeLocked(rec, start, end, at)
	return err
}

// MarkRead records that lines [start, end] of path were read at `at`.
// The path's read record is created on first use.
func (t *Tracker) MarkRead(ctx context.Context, path string, start, end int, at time.Time) (Record, error) {
	if err := validateBounds(start, end); err != nil {
		return Record{}, err
	}
	if path == "" {
		return Record{}, fmt.Errorf("%w: empty path", ErrInvalidRecord)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return Record{}, err
	}
	if err := t.ensureLoadedLocked(ctx, path); err != nil {
		return Record{}, err
	}

	if rec, ok := t.records.Find(path, KindRead); ok {
		return t.markRangeLocked(rec, start, end, at)
	}
	ranges := []linerange.Timestamped{linerange.NewTimestamped(start, end, at)}
	return t.createLocked(KindRead, path, ranges, t.opts.now())
}

// UnmarkLine removes one line from the record and reports whether
// anything changed. A record left without ranges is deleted.
func (t *Tracker) UnmarkLine(ctx context.Context, id string, line int) (bool, error) {
	if line < 1 {
		return false, fmt.Errorf("%w: line %d", ErrInvalidRange, line)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return false, err
	}
	rec, err := t.locateLocked(ctx, id)
	if err != nil {
		return false, err
	}
	out := linerange.RemoveLine(rec.Ranges, line, linerange.Timestamped.WithBounds)
	return t.applyUnmarkLocked(rec, out)
}

// UnmarkRange removes [start, end] from the record and reports whether
// anything changed. A record left without ranges is deleted.
func (t *Tracker) UnmarkRange(ctx context.Context, id string, start, end int) (bool, error) {
	if err := validateBounds(start, end); err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return false, err
	}
	rec, err := t.locateLocked(ctx, id)
	if err != nil {
		return false, err
	}
	out := linerange.RemoveRange(rec.Ranges, start, end, linerange.Timestamped.WithBounds)
	return t.applyUnmarkLocked(rec, out)
}

// IsLineMarked returns true if any range of the record covers line.
func (t *Tracker) IsLineMarked(ctx context.Context, id string, line int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.locateLocked(ctx, id)
	if err != nil {
		return false, err
	}
	return rec.Covers(line), nil
}

// UniqueMarkedLineCount returns the number of distinct lines the record covers.
func (t *Tracker) UniqueMarkedLineCount(ctx context.Context, id string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.locateLocked(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.LineCount(), nil
}

// MarkedLineCountSince counts distinct lines in ranges marked at or after since.
func (t *Tracker) MarkedLineCountSince(ctx context.Context, id string, since time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, err := t.locateLocked(ctx, id)
	if err != nil {
		return 0, err
	}
	return linerange.LinesSince(rec.Ranges, since), nil
}

// OnEdit translates every record of the edited document so its ranges keep
// denoting the same lines. Only records whose ranges moved are persisted.
func (t *Tracker) OnEdit(ctx context.Context, e tracking.Edit) error {
	if err := e.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return err
	}
	if e.Delta() == 0 {
		t.opts.metrics.EditApplied(0)
		return nil
	}
	if err := t.ensureLoadedLocked(ctx, e.Path); err != nil {
		return err
	}

	var keys []recordKey
	now := t.opts.now()
	for _, id := range t.records.IDsForPath(e.Path) {
		rec, _ := t.records.Get(id)
		out, changed := tracking.Translate(rec.Ranges, e, linerange.Timestamped.WithBounds)
		if !changed {
			continue
		}
		t.records.SetRanges(id, out, now)
		keys = append(keys, keyOf(rec))
	}

	t.opts.metrics.EditApplied(len(keys))
	if len(keys) == 0 {
		return nil
	}
	t.opts.logger.Debug("edit applied", "edit", e.String(), "records", len(keys))
	return t.markDirtyLocked(keys...)
}

// OnEdits applies edits in order, stopping at the first failure.
func (t *Tracker) OnEdits(ctx context.Context, edits ...tracking.Edit) error {
	for i, e := range edits {
		if err := t.OnEdit(ctx, e); err != nil {
			return fmt.Errorf("edit %d: %w", i, err)
		}
	}
	return nil
}

// Rename moves every record of oldPath to newPath.
func (t *Tracker) Rename(ctx context.Context, oldPath, newPath string) error {
	if newPath == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidRecord)
	}
	if oldPath == newPath {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpenLocked(); err != nil {
		return err
	}
	if err := t.ensureLoadedLocked(ctx, oldPath); err != nil {
		return err
	}
	if err := t.ensureLoadedLocked(ctx, newPath); err != nil {
		return err
	}
	if len(t.records.IDsForPath(newPath)) > 0 {
		return fmt.Errorf("%w: %s", ErrPathExists, newPath)
	}

	var keys []recordKey
	now := t.opts.now()
	for _, id := range t.records.IDsForPath(oldPath) {
		rec, _ := t.records.Get(id)
		keys = append(keys, keyOf(rec))
		rec.Path = newPath
		rec.UpdatedAt = now
		t.records.Put(rec)
		keys = append(keys, keyOf(rec))
	}
	if len(keys) == 0 {
		return nil
	}
	return t.markDirtyLocked(keys...)
}

// Loaded returns true if path is held in memory.
func (t *Tracker) Loaded(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded[path]
}

// Paths returns the documents currently held in memory, sorted.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.loaded))
	for p := range t.loaded {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Evict flushes pending writes and drops path from memory. The next
// operation on path re-hydrates it from the blob store.
func (t *Tracker) Evict(ctx context.Context, path string) error {
	// Flush takes t.mu through flushKeys, so it must run unlocked.
	if err := t.cache.Flush(ctx); err != nil {
		return fmt.Errorf("evict %s: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded[path] {
		return nil
	}
	if t.dirtyPathsLocked()[path] {
		return fmt.Errorf("evict %s: %w", path, ErrDocumentDirty)
	}
	t.dropLocked(path)
	return nil
}

// EvictClean drops every loaded document without unflushed changes and
// returns how many were dropped. Use it when the blob store was changed
// by another process.
func (t *Tracker) EvictClean(ctx context.Context) (int, error) {
	if err := t.cache.Flush(ctx); err != nil {
		return 0, fmt.Errorf("evict clean: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	dirty := t.dirtyPathsLocked()
	n := 0
	for path := range t.loaded {
		if dirty[path] {
			continue
		}
		t.dropLocked(path)
		n++
	}
	if n > 0 {
		t.opts.logger.Debug("evicted clean documents", "count", n)
	}
	return n, nil
}

// Pending returns the number of records waiting to be persisted.
func (t *Tracker) Pending() int {
	return t.cache.Pending()
}

// Flush persists all pending records now.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.cache.Flush(ctx)
}

// Close force-flushes pending records and rejects further mutations.
// The blob store is not closed.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.cache.Close(ctx)
}

func (t *Tracker) checkOpenLocked() error {
	if t.closed {
		return writeback.ErrClosed
	}
	return nil
}

func (t *Tracker) createLocked(kind Kind, path string, ranges []linerange.Timestamped, now time.Time, opts ...RecordOption) (Record, error) {
	rec := Record{
		ID:        t.opts.newID(),
		Kind:      kind,
		Path:      path,
		Ranges:    ranges,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(&rec)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	t.records.Put(rec)
	if err := t.markDirtyLocked(keyOf(rec)); err != nil {
		return Record{}, err
	}
	return rec.Clone(), nil
}

func (t *Tracker) markRangeLocked(rec Record, start, end int, at time.Time) (Record, error) {
	res := t.coalescer.Merge(rec.Ranges, linerange.NewTimestamped(start, end, at))
	t.records.SetRanges(rec.ID, res.Ranges, t.opts.now())
	t.opts.metrics.Merged(res.Absorbed)
	if err := t.markDirtyLocked(keyOf(rec)); err != nil {
		return Record{}, err
	}
	updated, _ := t.records.Get(rec.ID)
	return updated, nil
}

func (t *Tracker) applyUnmarkLocked(rec Record, out []linerange.Timestamped) (bool, error) {
	if linerange.Equal(rec.Ranges, out) {
		return false, nil
	}
	deleted, _ := t.records.SetRanges(rec.ID, out, t.opts.now())
	if deleted {
		t.opts.logger.Debug("record emptied", "id", rec.ID, "kind", rec.Kind)
	}
	t.opts.metrics.Unmarked()
	return true, t.markDirtyLocked(keyOf(rec))
}

func (t *Tracker) markDirtyLocked(keys ...recordKey) error {
	if err := t.cache.MarkDirty(keys...); err != nil {
		return err
	}
	t.opts.metrics.SetDirty(t.cache.Pending())
	return nil
}

func (t *Tracker) dirtyPathsLocked() map[string]bool {
	paths := make(map[string]bool)
	for _, k := range t.cache.DirtyKeys() {
		paths[k.Path] = true
	}
	return paths
}

func (t *Tracker) dropLocked(path string) {
	for _, id := range t.records.IDsForPath(path) {
		t.records.Delete(id)
	}
	delete(t.loaded, path)
}

// locateLocked returns the record with id, hydrating its document if the
// record is only known to the blob store.
func (t *Tracker) locateLocked(ctx context.Context, id string) (Record, error) {
	if rec, ok := t.records.Get(id); ok {
		return rec, nil
	}

	for _, kind := range Kinds() {
		recs, err := t.loadKind(ctx, kind)
		if err != nil {
			return Record{}, err
		}
		for _, rec := range recs {
			if rec.ID != id {
				continue
			}
			if err := t.ensureLoadedLocked(ctx, rec.Path); err != nil {
				return Record{}, err
			}
			if rec, ok := t.records.Get(id); ok {
				return rec, nil
			}
			// Deleted in memory, not yet flushed.
			return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

// ensureLoadedLocked hydrates path from the blob store on first use.
func (t *Tracker) ensureLoadedLocked(ctx context.Context, path string) error {
	if t.loaded[path] {
		return nil
	}

	n := 0
	for _, kind := range Kinds() {
		recs, err := t.loadKind(ctx, kind)
		if err != nil {
			return fmt.Errorf("hydrate %s: %w", path, err)
		}
		for _, rec := range recs {
			if rec.Path != path || t.records.Has(rec.ID) {
				continue
			}
			t.records.Put(rec)
			n++
		}
	}

	t.loaded[path] = true
	t.opts.metrics.Hydrated()
	t.opts.logger.Debug("document hydrated", "path", path, "records", n)
	return nil
}

func (t *Tracker) loadKind(ctx context.Context, kind Kind) ([]Record, error) {
	data, err := t.blobs.Get(ctx, kind.Tool())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind.Tool(), err)
	}
	recs, invalid, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind.Tool(), err)
	}
	for _, e := range invalid {
		t.opts.logger.Warn("skipping invalid record", "tool", kind.Tool(), "error", e)
	}

	out := recs[:0]
	for _, rec := range recs {
		if rec.Kind != kind {
			t.opts.logger.Warn("skipping record filed under wrong tool",
				"tool", kind.Tool(), "id", rec.ID, "kind", rec.Kind)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// flushKeys is the write-behind flush function. It snapshots the dirty
// records under the lock, then rewrites each affected tool blob
// concurrently without holding it.
func (t *Tracker) flushKeys(ctx context.Context, keys []recordKey) error {
	changes := make(map[Kind]map[string]*Record)

	t.mu.Lock()
	for _, k := range keys {
		byID := changes[k.Kind]
		if byID == nil {
			byID = make(map[string]*Record)
			changes[k.Kind] = byID
		}
		if rec, ok := t.records.Get(k.ID); ok && rec.Kind == k.Kind {
			byID[k.ID] = &rec
		} else {
			byID[k.ID] = nil
		}
	}
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for kind, byID := range changes {
		g.Go(func() error {
			return t.writeKind(gctx, kind, byID)
		})
	}
	return g.Wait()
}

// writeKind merges changes into the stored blob of one kind. A nil entry
// deletes the record.
func (t *Tracker) writeKind(ctx context.Context, kind Kind, changes map[string]*Record) error {
	tool := kind.Tool()
	data, err := t.blobs.Get(ctx, tool)
	if err != nil {
		return fmt.Errorf("flush %s: %w", tool, err)
	}
	existing, invalid, err := Decode(data)
	if err != nil {
		return fmt.Errorf("flush %s: %w", tool, err)
	}
	if len(invalid) > 0 {
		t.opts.logger.Warn("dropping invalid records on rewrite", "tool", tool, "count", len(invalid))
	}

	out := make([]Record, 0, len(existing)+len(changes))
	seen := make(map[string]bool, len(changes))
	for _, rec := range existing {
		ch, ok := changes[rec.ID]
		if !ok {
			out = append(out, rec)
			continue
		}
		seen[rec.ID] = true
		if ch != nil {
			out = append(out, *ch)
		}
	}

	var added []Record
	for id, ch := range changes {
		if ch != nil && !seen[id] {
			added = append(added, *ch)
		}
	}
	sort.Slice(added, func(i, j int) bool {
		if !added[i].CreatedAt.Equal(added[j].CreatedAt) {
			return added[i].CreatedAt.Before(added[j].CreatedAt)
		}
		return added[i].ID < added[j].ID
	})
	out = append(out, added...)

	blob, err := Encode(out)
	if err != nil {
		return fmt.Errorf("flush %s: %w", tool, err)
	}
	if err := t.blobs.Set(ctx, tool, blob); err != nil {
		return fmt.Errorf("flush %s: %w", tool, err)
	}
	return nil
}

func keyOf(rec Record) recordKey {
	return recordKey{Kind: rec.Kind, ID: rec.ID, Path: rec.Path}
}
