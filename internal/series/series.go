package series

import (
	"slices"
	"time"
)

// Entry is one timestamped value of a series.
type Entry[T any] struct {
	Item    T
	Instant time.Time
}

// Series is an ordered sequence of timestamped values. Iteration follows
// insertion order unless the series has been re-derived with ToAscending.
type Series[T any] struct {
	entries []Entry[T]
}

// New creates an empty series.
func New[T any]() *Series[T] {
	return &Series[T]{}
}

// FromEntries creates a series holding a copy of entries, in the given order.
func FromEntries[T any](entries []Entry[T]) *Series[T] {
	return &Series[T]{entries: slices.Clone(entries)}
}

// Append adds a value at the end of the series.
func (s *Series[T]) Append(item T, instant time.Time) {
	s.entries = append(s.entries, Entry[T]{Item: item, Instant: instant})
}

// Len returns the number of entries.
func (s *Series[T]) Len() int {
	return len(s.entries)
}

// At returns the i-th entry in iteration order.
func (s *Series[T]) At(i int) Entry[T] {
	return s.entries[i]
}

// Last returns the most recently appended entry.
func (s *Series[T]) Last() (Entry[T], bool) {
	if len(s.entries) == 0 {
		return Entry[T]{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Entries returns a copy of the entries in iteration order.
func (s *Series[T]) Entries() []Entry[T] {
	return slices.Clone(s.entries)
}

// Values returns the items in iteration order.
func (s *Series[T]) Values() []T {
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Item
	}
	return out
}

// ToAscending returns a new series sorted by instant. The sort is stable so
// entries sharing an instant keep their insertion order, which makes the
// operation idempotent.
func (s *Series[T]) ToAscending() *Series[T] {
	sorted := slices.Clone(s.entries)
	slices.SortStableFunc(sorted, func(a, b Entry[T]) int {
		return a.Instant.Compare(b.Instant)
	})
	return &Series[T]{entries: sorted}
}

// Iterator returns a forward cursor over a snapshot of the series.
func (s *Series[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{entries: s.entries[:len(s.entries):len(s.entries)]}
}

// Iterator walks a series front to back.
type Iterator[T any] struct {
	entries []Entry[T]
	pos     int
}

// Next returns the next entry, or false once the series is exhausted.
func (it *Iterator[T]) Next() (Entry[T], bool) {
	if it.pos >= len(it.entries) {
		return Entry[T]{}, false
	}
	e := it.entries[it.pos]
	it.pos++
	return e, true
}

// Remaining returns how many entries have not been consumed yet.
func (it *Iterator[T]) Remaining() int {
	return len(it.entries) - it.pos
}
