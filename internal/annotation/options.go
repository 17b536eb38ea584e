package annotation

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/linemark/internal/engine/coalesce"
	"github.com/dshills/linemark/internal/metrics"
	"github.com/dshills/linemark/internal/writeback"
)

// Option configures a Tracker.
type Option func(*trackerOptions)

type trackerOptions struct {
	mergeWindow time.Duration
	flushDelay  time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	newID       func() string
	onError     func(error)
}

func defaultOptions() trackerOptions {
	return trackerOptions{
		mergeWindow: coalesce.DefaultWindow,
		flushDelay:  writeback.DefaultDelay,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithMergeWindow sets the coalescing window. Zero disables merging.
func WithMergeWindow(d time.Duration) Option {
	return func(o *trackerOptions) {
		o.mergeWindow = d
	}
}

// WithFlushDelay sets the write-behind quiet period.
func WithFlushDelay(d time.Duration) Option {
	return func(o *trackerOptions) {
		o.flushDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *trackerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *trackerOptions) {
		o.metrics = m
	}
}

// WithClock sets the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *trackerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets the record ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *trackerOptions) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithFlushErrorHandler sets a handler for background flush failures.
func WithFlushErrorHandler(fn func(error)) Option {
	return func(o *trackerOptions) {
		o.onError = fn
	}
}
