// Package metrics exposes Prometheus collectors for the line tracking
// engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "linemark"

// Metrics holds the engine's collectors.
type Metrics struct {
	EditsApplied     prometheus.Counter
	RangesTranslated prometheus.Counter
	RangesMerged     prometheus.Counter
	RangesRemoved    prometheus.Counter
	Hydrations       prometheus.Counter
	Flushes          *prometheus.CounterVec
	FlushedRecords   prometheus.Counter
	DirtyRecords     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid global registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EditsApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_applied_total",
			Help:      "Document edit events translated across tracked ranges",
		}),
		RangesTranslated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranges_translated_total",
			Help:      "Annotation records whose ranges moved because of an edit",
		}),
		RangesMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranges_merged_total",
			Help:      "Existing ranges absorbed by a newly marked range",
		}),
		RangesRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmarks_total",
			Help:      "Unmark requests that changed a record",
		}),
		Hydrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_hydrations_total",
			Help:      "Documents loaded from persisted state",
		}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Write-behind flush attempts by result",
		}, []string{"result"}),
		FlushedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_records_total",
			Help:      "Records written by successful flushes",
		}),
		DirtyRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dirty_records",
			Help:      "Records waiting to be flushed",
		}),
	}
}

// EditApplied records one edit event that moved changed records.
func (m *Metrics) EditApplied(changed int) {
	if m == nil {
		return
	}
	m.EditsApplied.Inc()
	m.RangesTranslated.Add(float64(changed))
}

// Merged records ranges absorbed by a mark.
func (m *Metrics) Merged(absorbed int) {
	if m == nil || absorbed == 0 {
		return
	}
	m.RangesMerged.Add(float64(absorbed))
}

// Unmarked records an unmark that changed a record.
func (m *Metrics) Unmarked() {
	if m == nil {
		return
	}
	m.RangesRemoved.Inc()
}

// Hydrated records a document load.
func (m *Metrics) Hydrated() {
	if m == nil {
		return
	}
	m.Hydrations.Inc()
}

// Flushed records a flush attempt.
func (m *Metrics) Flushed(records int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Flushes.WithLabelValues("error").Inc()
		return
	}
	m.Flushes.WithLabelValues("ok").Inc()
	m.FlushedRecords.Add(float64(records))
}

// SetDirty sets the number of records waiting to be flushed.
func (m *Metrics) SetDirty(n int) {
	if m == nil {
		return
	}
	m.DirtyRecords.Set(float64(n))
}
