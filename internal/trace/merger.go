package trace

import (
	"container/heap"
	"fmt"
)

// Source is a batch iterator the Merger can interleave. *Reader and
// *StatefulReader satisfy it.
type Source[E any] interface {
	Name() string
	Next() bool
	Time() int64
	Batch() []E
	Priority() Priority
	Err() error
}

// OrderKey is the position of a batch in a merged stream. Lower keys come
// first: time, then priority, then the index of the source.
type OrderKey struct {
	Time     int64
	Priority Priority
	Source   int
}

// Less reports whether k sorts before o.
func (k OrderKey) Less(o OrderKey) bool {
	if k.Time != o.Time {
		return k.Time < o.Time
	}
	if k.Priority != o.Priority {
		return k.Priority < o.Priority
	}
	return k.Source < o.Source
}

// Merger interleaves the batches of several sources by OrderKey. Each call
// to Next yields one source's batch; batches of different sources at the
// same time are not combined.
//
// A source is advanced only after its current batch has been consumed, so a
// StatefulReader's reference state stays in step with the merged output.
type Merger[E any] struct {
	sources []Source[E]
	heads   keyHeap
	started bool
	last    int

	key   OrderKey
	batch []E
	err   error
}

// NewMerger returns a merger over sources. Source indexes follow argument
// order.
func NewMerger[E any](sources ...Source[E]) *Merger[E] {
	return &Merger[E]{sources: sources, last: -1}
}

// Next advances to the next batch in merged order.
func (m *Merger[E]) Next() bool {
	if m.err != nil {
		return false
	}
	if !m.started {
		m.started = true
		for i := range m.sources {
			if !m.advance(i) {
				return false
			}
		}
	} else if m.last >= 0 {
		if !m.advance(m.last) {
			return false
		}
	}
	m.last = -1
	if len(m.heads) == 0 {
		m.batch = nil
		return false
	}
	m.key = heap.Pop(&m.heads).(OrderKey)
	m.last = m.key.Source
	m.batch = m.sources[m.key.Source].Batch()
	return true
}

func (m *Merger[E]) advance(i int) bool {
	src := m.sources[i]
	if src.Next() {
		heap.Push(&m.heads, OrderKey{Time: src.Time(), Priority: src.Priority(), Source: i})
		return true
	}
	if err := src.Err(); err != nil {
		m.err = fmt.Errorf("merge %s: %w", src.Name(), err)
		return false
	}
	return true
}

// Key returns the order key of the current batch.
func (m *Merger[E]) Key() OrderKey { return m.key }

// Time returns the time of the current batch.
func (m *Merger[E]) Time() int64 { return m.key.Time }

// Batch returns the current batch.
func (m *Merger[E]) Batch() []E { return m.batch }

// Source returns the index of the source the current batch came from.
func (m *Merger[E]) Source() int { return m.key.Source }

// Err returns the first source error, if any.
func (m *Merger[E]) Err() error { return m.err }

type keyHeap []OrderKey

func (h keyHeap) Len() int           { return len(h) }
func (h keyHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h keyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x any)        { *h = append(*h, x.(OrderKey)) }

func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	k := old[n-1]
	*h = old[:n-1]
	return k
}
