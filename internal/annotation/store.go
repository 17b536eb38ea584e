package annotation

import (
	"slices"
	"time"

	"github.com/dshills/linemark/internal/engine/linerange"
)

// Store holds records in memory keyed by ID, preserving insertion order.
// It is not safe for concurrent use; the Tracker serializes access.
type Store struct {
	records map[string]*Record
	order   []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]*Record)}
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Has returns true if a record with id exists.
func (s *Store) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// Put inserts a record or replaces the one with the same ID in place.
func (s *Store) Put(rec Record) {
	rec = rec.Clone()
	if existing, ok := s.records[rec.ID]; ok {
		*existing = rec
		return
	}
	s.records[rec.ID] = &rec
	s.order = append(s.order, rec.ID)
}

// Delete removes a record and reports whether it existed.
func (s *Store) Delete(id string) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true
}

// SetRanges replaces a record's ranges. A record left without ranges is
// deleted; the result reports whether that happened.
func (s *Store) SetRanges(id string, ranges []linerange.Timestamped, now time.Time) (deleted bool, ok bool) {
	rec, found := s.records[id]
	if !found {
		return false, false
	}
	if len(ranges) == 0 {
		s.Delete(id)
		return true, true
	}
	rec.Ranges = slices.Clone(ranges)
	rec.UpdatedAt = now
	return false, true
}

// ForPath returns copies of the records attached to path in insertion order.
func (s *Store) ForPath(path string) []Record {
	var out []Record
	for _, id := range s.order {
		if rec := s.records[id]; rec.Path == path {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// IDsForPath returns the IDs of the records attached to path.
func (s *Store) IDsForPath(path string) []string {
	var ids []string
	for _, id := range s.order {
		if s.records[id].Path == path {
			ids = append(ids, id)
		}
	}
	return ids
}

// Find returns the first record attached to path with the given kind.
func (s *Store) Find(path string, kind Kind) (Record, bool) {
	for _, id := range s.order {
		if rec := s.records[id]; rec.Path == path && rec.Kind == kind {
			return rec.Clone(), true
		}
	}
	return Record{}, false
}

// All returns copies of all records in insertion order.
func (s *Store) All() []Record {
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}
