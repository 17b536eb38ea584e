package annotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/linemark/internal/blobstore"
	"github.com/dshills/linemark/internal/engine/linerange"
	"github.com/dshills/linemark/internal/engine/tracking"
	"github.com/dshills/linemark/internal/metrics"
	"github.com/dshills/linemark/internal/writeback"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

var errDiskFull = errors.New("disk full")

// flakyStore fails writes while fail is set.
type flakyStore struct {
	*blobstore.MemoryStore
	fail atomic.Bool
	sets atomic.Int32
}

func (s *flakyStore) Set(ctx context.Context, tool string, data []byte) error {
	if s.fail.Load() {
		return errDiskFull
	}
	s.sets.Add(1)
	return s.MemoryStore.Set(ctx, tool, data)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("rec-%d", n)
	}
}

func newTestTracker(t *testing.T, blobs blobstore.Store, opts ...Option) *Tracker {
	t.Helper()
	base := []Option{
		WithFlushDelay(time.Hour),
		WithClock(func() time.Time { return t0 }),
		WithIDGenerator(sequentialIDs()),
	}
	tr := NewTracker(blobs, append(base, opts...)...)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func plainRanges(t *testing.T, tr *Tracker, id string) []linerange.Range {
	t.Helper()
	rec, err := tr.Get(context.Background(), id)
	require.NoError(t, err)
	return linerange.Plain(rec.Ranges)
}

func TestTrackerCreate(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, blobstore.NewMemoryStore())

	rec, err := tr.Create(ctx, KindNote, "main.go", []linerange.Range{linerange.New(3, 5)},
		WithText("check this"), WithColor("yellow"))
	require.NoError(t, err)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, KindNote, rec.Kind)
	assert.Equal(t, "check this", rec.Text)
	assert.Equal(t, "yellow", rec.Color)
	assert.Equal(t, t0, rec.CreatedAt)
	require.Len(t, rec.Ranges, 1)
	assert.Equal(t, t0, rec.Ranges[0].MarkedAt)

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := tr.Create(ctx, Kind("bogus"), "main.go", []linerange.Range{linerange.Single(1)})
		assert.ErrorIs(t, err, ErrUnknownKind)

		_, err = tr.Create(ctx, KindNote, "", []linerange.Range{linerange.Single(1)})
		assert.ErrorIs(t, err, ErrInvalidRecord)

		_, err = tr.Create(ctx, KindNote, "main.go", nil)
		assert.ErrorIs(t, err, ErrInvalidRange)

		_, err = tr.Create(ctx, KindNote, "main.go", []linerange.Range{{Start: 4, End: 2}})
		assert.ErrorIs(t, err, ErrInvalidRange)
	})
}

func TestTrackerMarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("coalesces within window", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore(), WithMergeWindow(5*time.Minute))

		rec, err := tr.MarkRead(ctx, "a.go", 10, 10, t0)
		require.NoError(t, err)
		_, err = tr.MarkRead(ctx, "a.go", 11, 11, t0.Add(time.Minute))
		require.NoError(t, err)

		got, err := tr.Get(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, got.Ranges, 1)
		assert.Equal(t, linerange.New(10, 11), got.Ranges[0].Range)
		assert.Equal(t, t0.Add(time.Minute), got.Ranges[0].MarkedAt)
	})

	t.Run("zero window keeps ranges apart", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore(), WithMergeWindow(0))

		rec, err := tr.MarkRead(ctx, "a.go", 10, 10, t0)
		require.NoError(t, err)
		_, err = tr.MarkRead(ctx, "a.go", 11, 11, t0.Add(time.Minute))
		require.NoError(t, err)

		assert.Equal(t, []linerange.Range{linerange.Single(10), linerange.Single(11)},
			plainRanges(t, tr, rec.ID))
	})

	t.Run("one read record per path", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())

		a, err := tr.MarkRead(ctx, "a.go", 1, 2, t0)
		require.NoError(t, err)
		again, err := tr.MarkRead(ctx, "a.go", 20, 30, t0)
		require.NoError(t, err)
		b, err := tr.MarkRead(ctx, "b.go", 1, 2, t0)
		require.NoError(t, err)

		assert.Equal(t, a.ID, again.ID)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestTrackerQueries(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t, blobstore.NewMemoryStore(), WithMergeWindow(0))

	rec, err := tr.MarkRead(ctx, "a.go", 1, 5, t0)
	require.NoError(t, err)
	require.NoError(t, tr.MarkRange(ctx, rec.ID, 4, 8, t0.Add(time.Hour)))

	marked, err := tr.IsLineMarked(ctx, rec.ID, 8)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = tr.IsLineMarked(ctx, rec.ID, 9)
	require.NoError(t, err)
	assert.False(t, marked)

	count, err := tr.UniqueMarkedLineCount(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	since, err := tr.MarkedLineCountSince(ctx, rec.ID, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5, since)

	_, err = tr.IsLineMarked(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	err = tr.MarkRange(ctx, rec.ID, 5, 3, t0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestTrackerUnmark(t *testing.T) {
	ctx := context.Background()

	t.Run("split", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		rec, err := tr.Create(ctx, KindHighlight, "a.go", []linerange.Range{linerange.New(1, 15)})
		require.NoError(t, err)

		changed, err := tr.UnmarkRange(ctx, rec.ID, 3, 12)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []linerange.Range{linerange.New(1, 2), linerange.New(13, 15)},
			plainRanges(t, tr, rec.ID))

		changed, err = tr.UnmarkLine(ctx, rec.ID, 14)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []linerange.Range{linerange.New(1, 2), linerange.Single(13), linerange.Single(15)},
			plainRanges(t, tr, rec.ID))
	})

	t.Run("uncovered is a no-op", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		rec, err := tr.Create(ctx, KindHighlight, "a.go", []linerange.Range{linerange.New(1, 3)})
		require.NoError(t, err)
		require.NoError(t, tr.Flush(ctx))

		changed, err := tr.UnmarkLine(ctx, rec.ID, 10)
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = tr.UnmarkRange(ctx, rec.ID, 5, 9)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Zero(t, tr.Pending())
	})

	t.Run("emptied record is deleted", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		rec, err := tr.Create(ctx, KindGreyout, "a.go", []linerange.Range{linerange.New(4, 6)})
		require.NoError(t, err)

		changed, err := tr.UnmarkRange(ctx, rec.ID, 1, 10)
		require.NoError(t, err)
		assert.True(t, changed)

		_, err = tr.Get(ctx, rec.ID)
		assert.ErrorIs(t, err, ErrRecordNotFound)
		recs, err := tr.Records(ctx, "a.go")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("invalid bounds", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		rec, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{linerange.New(1, 3)})
		require.NoError(t, err)

		_, err = tr.UnmarkRange(ctx, rec.ID, 9, 2)
		assert.ErrorIs(t, err, ErrInvalidRange)
		_, err = tr.UnmarkLine(ctx, rec.ID, 0)
		assert.ErrorIs(t, err, ErrInvalidRange)
	})
}

func TestTrackerOnEdit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		rng  linerange.Range
		edit tracking.Edit
		want linerange.Range
	}{
		{"insert before shifts", linerange.New(10, 12), tracking.NewInsertEdit("a.go", 4, 3), linerange.New(13, 15)},
		{"insert inside grows", linerange.New(10, 12), tracking.NewInsertEdit("a.go", 11, 2), linerange.New(10, 14)},
		{"insert after is ignored", linerange.New(10, 12), tracking.NewInsertEdit("a.go", 20, 2), linerange.New(10, 12)},
		{"full deletion collapses", linerange.Single(5), tracking.NewDeleteEdit("a.go", 2, 8), linerange.Single(3)},
		{"deletion before shifts", linerange.New(10, 12), tracking.NewDeleteEdit("a.go", 0, 3), linerange.New(7, 9)},
		{"same line count", linerange.New(10, 12), tracking.NewEdit("a.go", 3, 5, "x\ny\nz"), linerange.New(10, 12)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t, blobstore.NewMemoryStore())
			rec, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{tt.rng})
			require.NoError(t, err)

			require.NoError(t, tr.OnEdit(ctx, tt.edit))
			assert.Equal(t, []linerange.Range{tt.want}, plainRanges(t, tr, rec.ID))
		})
	}

	t.Run("only touched document moves", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		a, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{linerange.New(10, 12)})
		require.NoError(t, err)
		b, err := tr.Create(ctx, KindNote, "b.go", []linerange.Range{linerange.New(10, 12)})
		require.NoError(t, err)

		require.NoError(t, tr.OnEdit(ctx, tracking.NewInsertEdit("a.go", 0, 5)))
		assert.Equal(t, []linerange.Range{linerange.New(15, 17)}, plainRanges(t, tr, a.ID))
		assert.Equal(t, []linerange.Range{linerange.New(10, 12)}, plainRanges(t, tr, b.ID))
	})

	t.Run("unchanged records stay clean", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		_, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{linerange.New(1, 2)})
		require.NoError(t, err)
		require.NoError(t, tr.Flush(ctx))

		require.NoError(t, tr.OnEdit(ctx, tracking.NewInsertEdit("a.go", 50, 3)))
		assert.Zero(t, tr.Pending())
	})

	t.Run("untracked path is a no-op", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		require.NoError(t, tr.OnEdit(ctx, tracking.NewInsertEdit("nothing.go", 0, 3)))
		assert.Zero(t, tr.Pending())
	})

	t.Run("invalid edit", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		err := tr.OnEdit(ctx, tracking.Edit{Path: "a.go", StartLine: 5, EndLine: 2})
		assert.ErrorIs(t, err, tracking.ErrInvalidEdit)
	})

	t.Run("edit burst", func(t *testing.T) {
		tr := newTestTracker(t, blobstore.NewMemoryStore())
		rec, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{linerange.New(20, 24)})
		require.NoError(t, err)

		var edits []tracking.Edit
		for range 10 {
			edits = append(edits,
				tracking.NewInsertEdit("a.go", 2, 4),
				tracking.NewDeleteEdit("a.go", 2, 6))
		}
		require.NoError(t, tr.OnEdits(ctx, edits...))
		assert.Equal(t, []linerange.Range{linerange.New(20, 24)}, plainRanges(t, tr, rec.ID))
	})
}

func TestTrackerPersistence(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()

	tr := newTestTracker(t, blobs)
	note, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{linerange.New(2, 4)}, WithText("hello"))
	require.NoError(t, err)
	read, err := tr.MarkRead(ctx, "a.go", 7, 9, t0)
	require.NoError(t, err)

	data, err := blobs.Get(ctx, KindNote.Tool())
	require.NoError(t, err)
	assert.Nil(t, data, "nothing is written before a flush")

	require.NoError(t, tr.Flush(ctx))
	assert.Zero(t, tr.Pending())

	other := newTestTracker(t, blobs)
	got, err := other.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, []linerange.Range{linerange.New(2, 4)}, linerange.Plain(got.Ranges))

	count, err := other.UniqueMarkedLineCount(ctx, read.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	t.Run("deletion is persisted", func(t *testing.T) {
		require.NoError(t, tr.Delete(ctx, note.ID))
		require.NoError(t, tr.Flush(ctx))

		fresh := newTestTracker(t, blobs)
		_, err := fresh.Get(ctx, note.ID)
		assert.ErrorIs(t, err, ErrRecordNotFound)
		_, err = fresh.Get(ctx, read.ID)
		assert.NoError(t, err)
	})
}

func TestTrackerEvict(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	tr := newTestTracker(t, blobs)

	rec, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{linerange.New(10, 12)})
	require.NoError(t, err)
	require.True(t, tr.Loaded("a.go"))

	require.NoError(t, tr.Evict(ctx, "a.go"))
	assert.False(t, tr.Loaded("a.go"))
	assert.Zero(t, tr.Pending())

	// The edit re-hydrates the document before translating it.
	require.NoError(t, tr.OnEdit(ctx, tracking.NewInsertEdit("a.go", 0, 2)))
	assert.True(t, tr.Loaded("a.go"))
	assert.Equal(t, []linerange.Range{linerange.New(12, 14)}, plainRanges(t, tr, rec.ID))

	t.Run("evict clean", func(t *testing.T) {
		_, err := tr.Create(ctx, KindNote, "b.go", []linerange.Range{linerange.Single(1)})
		require.NoError(t, err)

		n, err := tr.EvictClean(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Empty(t, tr.Paths())
	})
}

func TestTrackerRename(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	tr := newTestTracker(t, blobs)

	rec, err := tr.Create(ctx, KindNote, "old.go", []linerange.Range{linerange.Single(3)})
	require.NoError(t, err)
	_, err = tr.Create(ctx, KindNote, "taken.go", []linerange.Range{linerange.Single(1)})
	require.NoError(t, err)

	require.NoError(t, tr.Rename(ctx, "old.go", "new.go"))
	got, err := tr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "new.go", got.Path)

	recs, err := tr.Records(ctx, "old.go")
	require.NoError(t, err)
	assert.Empty(t, recs)

	err = tr.Rename(ctx, "new.go", "taken.go")
	assert.ErrorIs(t, err, ErrPathExists)

	require.NoError(t, tr.Flush(ctx))
	fresh := newTestTracker(t, blobs)
	recs, err = fresh.Records(ctx, "new.go")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestTrackerFlushFailure(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyStore{MemoryStore: blobstore.NewMemoryStore()}
	tr := newTestTracker(t, blobs)

	rec, err := tr.Create(ctx, KindNote, "a.go", []linerange.Range{linerange.Single(5)})
	require.NoError(t, err)

	blobs.fail.Store(true)
	err = tr.Flush(ctx)
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, tr.Pending(), "failed keys stay dirty")

	// In-memory state is intact.
	got, err := tr.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []linerange.Range{linerange.Single(5)}, linerange.Plain(got.Ranges))

	err = tr.Evict(ctx, "a.go")
	assert.ErrorIs(t, err, errDiskFull)
	assert.True(t, tr.Loaded("a.go"))

	blobs.fail.Store(false)
	require.NoError(t, tr.Flush(ctx))
	assert.Zero(t, tr.Pending())
}

func TestTrackerBackgroundFlush(t *testing.T) {
	ctx := context.Background()
	blobs := &flakyStore{MemoryStore: blobstore.NewMemoryStore()}
	tr := NewTracker(blobs, WithFlushDelay(50*time.Millisecond))
	defer func() { _ = tr.Close(ctx) }()

	rec, err := tr.MarkRead(ctx, "a.go", 1, 1, t0)
	require.NoError(t, err)
	for i := 2; i <= 10; i++ {
		require.NoError(t, tr.MarkRange(ctx, rec.ID, i, i, t0))
	}

	require.Eventually(t, func() bool { return tr.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), blobs.sets.Load(), "burst is written once")

	fresh := NewTracker(blobs)
	count, err := fresh.UniqueMarkedLineCount(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestTrackerClose(t *testing.T) {
	ctx := context.Background()
	blobs := blobstore.NewMemoryStore()
	tr := NewTracker(blobs, WithFlushDelay(time.Hour))

	rec, err := tr.MarkRead(ctx, "a.go", 3, 4, t0)
	require.NoError(t, err)
	require.NoError(t, tr.Close(ctx))

	fresh := NewTracker(blobs)
	count, err := fresh.UniqueMarkedLineCount(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = tr.MarkRead(ctx, "a.go", 5, 5, t0)
	assert.ErrorIs(t, err, writeback.ErrClosed)
	err = tr.OnEdit(ctx, tracking.NewInsertEdit("a.go", 0, 1))
	assert.ErrorIs(t, err, writeback.ErrClosed)
	assert.NoError(t, tr.Close(ctx))
}

func TestTrackerMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	tr := newTestTracker(t, blobstore.NewMemoryStore(), WithMetrics(m))

	rec, err := tr.MarkRead(ctx, "a.go", 10, 10, t0)
	require.NoError(t, err)
	require.NoError(t, tr.MarkRange(ctx, rec.ID, 11, 11, t0))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RangesMerged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DirtyRecords))

	require.NoError(t, tr.OnEdit(ctx, tracking.NewInsertEdit("a.go", 0, 1)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EditsApplied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RangesTranslated))

	require.NoError(t, tr.Flush(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flushes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushedRecords))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DirtyRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hydrations))
}
