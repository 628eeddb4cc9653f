// Package stim implements StimulationSet: an ordered sequence of
// (id, date, duration) event markers, co-dated with the sample stream
// a Pipeline emits. Entries are not required to be sorted, though the
// pipeline appends them in monotone sample-derived order in practice.
package stim

import "github.com/openacq/acqd/atime"

// Well-known marker IDs reserved by the acquisition core.
const (
	MarkerAddedSamplesBegin uint64 = 0x8100
	MarkerAddedSamplesEnd   uint64 = 0x8101
	MarkerRemovedSamples    uint64 = 0x8102
	MarkerArtifact          uint64 = 0x8200
	MarkerNoArtifact        uint64 = 0x8201
)

// Entry is one stimulation: event id, onset date, and duration.
type Entry struct {
	ID       uint64
	Date     atime.T
	Duration atime.T
}

// Set is an insertion-ordered sequence of Entry values.
type Set struct {
	entries []Entry
}

// NewSet returns an empty stimulation set.
func NewSet() *Set {
	return &Set{}
}

// Size returns the number of entries.
func (s *Set) Size() int { return len(s.entries) }

// PushBack appends one entry.
func (s *Set) PushBack(id uint64, date, duration atime.T) {
	s.entries = append(s.entries, Entry{ID: id, Date: date, Duration: duration})
}

// Get returns the entry at index i.
func (s *Set) Get(i int) Entry { return s.entries[i] }

// GetID returns the id of the entry at index i.
func (s *Set) GetID(i int) uint64 { return s.entries[i].ID }

// GetDate returns the date of the entry at index i.
func (s *Set) GetDate(i int) atime.T { return s.entries[i].Date }

// GetDuration returns the duration of the entry at index i.
func (s *Set) GetDuration(i int) atime.T { return s.entries[i].Duration }

// SetDate rewrites the date of the entry at index i in place. Drift
// correction uses this to resynchronise stimulation timestamps without
// disturbing insertion order.
func (s *Set) SetDate(i int, date atime.T) {
	s.entries[i].Date = date
}

// Erase removes the entry at index i, preserving the order of the rest.
func (s *Set) Erase(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}

// Clear removes every entry.
func (s *Set) Clear() {
	s.entries = s.entries[:0]
}

// Append adds every entry of src to s, shifting each date by shift.
func (s *Set) Append(src *Set, shift atime.T) {
	s.AppendRange(src, 0, src.Size(), shift)
}

// AppendRange adds src[start:end) to s, shifting each date by shift.
func (s *Set) AppendRange(src *Set, start, end int, shift atime.T) {
	if start < 0 {
		start = 0
	}
	if end > src.Size() {
		end = src.Size()
	}
	for i := start; i < end; i++ {
		e := src.entries[i]
		s.entries = append(s.entries, Entry{ID: e.ID, Date: e.Date.Add(shift), Duration: e.Duration})
	}
}

// RemoveRange drops every entry whose date lies in [start, end).
// Linear in the number of entries.
func (s *Set) RemoveRange(start, end atime.T) {
	out := s.entries[:0]
	for _, e := range s.entries {
		if e.Date >= start && e.Date < end {
			continue
		}
		out = append(out, e)
	}
	s.entries = out
}

// Copy replaces s's contents with a date-shifted copy of src.
func (s *Set) Copy(src *Set, shift atime.T) {
	s.Clear()
	s.Append(src, shift)
}

// Entries returns the live backing slice. Callers must not retain it
// across a call that mutates s.
func (s *Set) Entries() []Entry {
	return s.entries
}
