// Package writeback provides a write-behind cache that batches persistence
// of mutated keys.
//
// Callers mark keys dirty as they mutate in-memory state. The dirty set
// accumulates by union until the cache has been quiet for the flush delay,
// then the whole set is handed to the flush function in one call and
// cleared. A failed flush puts its keys back so the next flush retries
// them.
//
// # Lifecycle
//
//   - MarkDirty adds keys and restarts the quiet period.
//   - Flush writes the pending keys now.
//   - Close cancels the timer, flushes synchronously and rejects further
//     marks. Call it on shutdown so no pending write is lost.
package writeback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the default quiet period before a background flush.
const DefaultDelay = 300 * time.Millisecond

// DefaultFlushTimeout bounds a background flush.
const DefaultFlushTimeout = 10 * time.Second

// ErrClosed is returned when marking keys on a closed cache.
var ErrClosed = errors.New("write-behind cache is closed")

// FlushFunc persists the given keys.
type FlushFunc[K comparable] func(ctx context.Context, keys []K) error

// Option configures a Cache.
type Option func(*options)

type options struct {
	delay   time.Duration
	timeout time.Duration
	logger  *slog.Logger
	onError func(error)
	onFlush func(keys int, err error)
}

// WithDelay sets the quiet period before a background flush.
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// WithFlushTimeout bounds each background flush.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorHandler sets a handler for errors from background flushes.
// Errors from Flush and Close are returned to the caller instead.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithFlushHook sets a function called after every flush attempt with the
// number of keys written and the outcome.
func WithFlushHook(fn func(keys int, err error)) Option {
	return func(o *options) {
		o.onFlush = fn
	}
}

// Cache accumulates dirty keys and flushes them in batches.
type Cache[K comparable] struct {
	mu       sync.Mutex
	dirty    map[K]struct{}
	inflight map[K]struct{}
	closed   bool

	// flushMu serializes flush calls so keys are never written twice at once.
	flushMu sync.Mutex

	flush     FlushFunc[K]
	debouncer *Debouncer
	opts      options
}

// New creates a write-behind cache around flush.
func New[K comparable](flush FlushFunc[K], opts ...Option) *Cache[K] {
	o := options{
		delay:   DefaultDelay,
		timeout: DefaultFlushTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache[K]{
		dirty:    make(map[K]struct{}),
		inflight: make(map[K]struct{}),
		flush:    flush,
		opts:     o,
	}
	c.debouncer = NewDebouncer(o.delay, c.backgroundFlush)
	return c
}

// MarkDirty adds keys to the dirty set and restarts the quiet period.
func (c *Cache[K]) MarkDirty(keys ...K) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	for _, k := range keys {
		c.dirty[k] = struct{}{}
	}
	c.mu.Unlock()

	if len(keys) > 0 {
		c.debouncer.Call()
	}
	return nil
}

// IsDirty returns true if key is waiting to be flushed or is being flushed.
func (c *Cache[K]) IsDirty(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, dirty := c.dirty[key]
	_, inflight := c.inflight[key]
	return dirty || inflight
}

// DirtyKeys returns a snapshot of the keys not yet durably written,
// including those in a flush that has not finished, in no particular order.
func (c *Cache[K]) DirtyKeys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, len(c.dirty)+len(c.inflight))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	for k := range c.inflight {
		if _, ok := c.dirty[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Pending returns the number of keys not yet durably written.
func (c *Cache[K]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.dirty)
	for k := range c.inflight {
		if _, ok := c.dirty[k]; !ok {
			n++
		}
	}
	return n
}

// Flush writes all dirty keys now. On failure the keys stay dirty.
func (c *Cache[K]) Flush(ctx context.Context) error {
	c.debouncer.Cancel()
	return c.flushNow(ctx)
}

// Close stops background flushing and force-flushes pending keys.
// Close is idempotent; later calls flush whatever a failed earlier call left.
func (c *Cache[K]) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.debouncer.Stop()
	if err := c.flushNow(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

func (c *Cache[K]) backgroundFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.timeout)
	defer cancel()

	if err := c.flushNow(ctx); err != nil {
		c.opts.logger.Error("background flush failed", "error", err, "pending", c.Pending())
		if c.opts.onError != nil {
			c.opts.onError(err)
		}
	}
}

func (c *Cache[K]) flushNow(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return nil
	}
	keys := make([]K, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	c.inflight = c.dirty
	c.dirty = make(map[K]struct{})
	c.mu.Unlock()

	err := c.flush(ctx, keys)

	c.mu.Lock()
	if err != nil {
		for _, k := range keys {
			c.dirty[k] = struct{}{}
		}
	}
	c.inflight = make(map[K]struct{})
	c.mu.Unlock()

	if c.opts.onFlush != nil {
		c.opts.onFlush(len(keys), err)
	}
	if err != nil {
		return err
	}

	c.opts.logger.Debug("flushed", "keys", len(keys))
	return nil
}
