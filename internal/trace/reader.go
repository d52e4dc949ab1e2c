package trace

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
)

// Reader yields the events of one stream in non-decreasing time order,
// grouped in batches that share a timestamp.
//
// Usage mirrors sql.Rows:
//
//	for r.Next() {
//	    handle(r.Time(), r.Batch())
//	}
//	if err := r.Err(); err != nil { ... }
type Reader[E any] struct {
	name     string
	open     func() (io.ReadCloser, error)
	codec    Codec[E]
	window   int64
	priority Priority
	offset   int64

	rc      io.ReadCloser
	fr      *frameReader
	pending timedHeap[frame]
	seq     uint64
	highest int64
	seen    bool
	eof     bool
	floor   int64

	// Lookahead batch prepared by fill.
	ready     bool
	nextTime  int64
	nextBatch []E

	time   int64
	batch  []E
	err    error
	closed bool
}

func newReader[E any](name string, open func() (io.ReadCloser, error), codec Codec[E], window int64, priority Priority, offset int64) *Reader[E] {
	if window < 0 {
		window = 0
	}
	return &Reader[E]{
		name:     name,
		open:     open,
		codec:    codec,
		window:   window,
		priority: priority,
		offset:   offset,
		floor:    -Infinity,
	}
}

// Name returns the trace name.
func (r *Reader[E]) Name() string { return r.name }

// Priority returns the merge priority the reader was opened with.
func (r *Reader[E]) Priority() Priority { return r.priority }

// Time returns the timestamp of the current batch.
func (r *Reader[E]) Time() int64 { return r.time }

// Batch returns the events of the current batch.
func (r *Reader[E]) Batch() []E { return r.batch }

// Err returns the error that stopped iteration, if any.
func (r *Reader[E]) Err() error { return r.err }

// Next advances to the next batch. It returns false at the end of the stream
// or on error; check Err to tell them apart.
func (r *Reader[E]) Next() bool {
	if !r.fill() {
		return false
	}
	r.time = r.nextTime
	r.batch = r.nextBatch
	r.ready = false
	r.nextBatch = nil
	return true
}

// peek returns the time of the next batch without consuming it.
func (r *Reader[E]) peek() (int64, bool) {
	if !r.fill() {
		return 0, false
	}
	return r.nextTime, true
}

// Seek positions the reader so that the next batch has time >= t. Frames
// before the target are skipped without decoding their payloads.
func (r *Reader[E]) Seek(t int64) error {
	if r.closed {
		return ErrClosed
	}
	r.reset()
	r.floor = t - r.offset
	if err := r.ensureOpen(); err != nil {
		r.err = seekFailure(r.name, t, err)
		return r.err
	}
	// Land on the first frame at or after the target so that damage in the
	// skipped region is reported as a seek failure.
	for !r.eof && len(r.pending) == 0 {
		if err := r.readFrame(); err != nil {
			r.err = seekFailure(r.name, t, err)
			return r.err
		}
	}
	return nil
}

// Close releases the underlying stream. It is safe to call more than once.
func (r *Reader[E]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.pending = nil
	r.ready = false
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	r.fr = nil
	return err
}

func (r *Reader[E]) reset() {
	if r.rc != nil {
		_ = r.rc.Close()
	}
	r.rc = nil
	r.fr = nil
	r.pending = nil
	r.seq = 0
	r.highest = 0
	r.seen = false
	r.eof = false
	r.ready = false
	r.nextBatch = nil
	r.batch = nil
	r.err = nil
}

func (r *Reader[E]) ensureOpen() error {
	if r.rc != nil {
		return nil
	}
	rc, err := r.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", r.name, err)
	}
	r.rc = rc
	r.fr = newFrameReader(r.name, rc)
	return nil
}

// fill prepares the lookahead batch. A batch at time t is complete once a
// frame later than t+window has been read or the stream has ended.
func (r *Reader[E]) fill() bool {
	if r.ready {
		return true
	}
	if r.closed {
		if r.err == nil {
			r.err = ErrClosed
		}
		return false
	}
	if r.err != nil {
		return false
	}
	if err := r.ensureOpen(); err != nil {
		r.err = err
		return false
	}
	for {
		if len(r.pending) > 0 {
			top := r.pending[0].time
			if r.eof || r.highest-r.window > top {
				return r.release(top)
			}
		}
		if r.eof {
			return false
		}
		if err := r.readFrame(); err != nil {
			r.err = err
			return false
		}
	}
}

func (r *Reader[E]) readFrame() error {
	f, err := r.fr.next(func(t int64) bool { return t >= r.floor })
	if errors.Is(err, io.EOF) {
		r.eof = true
		return nil
	}
	if err != nil {
		return err
	}
	if !r.seen || f.time > r.highest {
		r.highest = f.time
		r.seen = true
	}
	if f.time < r.floor {
		return nil
	}
	heap.Push(&r.pending, timed[frame]{time: f.time, seq: r.seq, value: f})
	r.seq++
	return nil
}

// release decodes every pending frame at time t into the lookahead batch.
func (r *Reader[E]) release(t int64) bool {
	var batch []E
	for len(r.pending) > 0 && r.pending[0].time == t {
		f := heap.Pop(&r.pending).(timed[frame]).value
		for _, raw := range f.items {
			item, err := r.codec.Decode(raw)
			if err != nil {
				r.err = corrupt(r.name, f.offset, "cannot decode item", err)
				return false
			}
			batch = append(batch, item)
		}
	}
	r.ready = true
	r.nextTime = t + r.offset
	r.nextBatch = batch
	return true
}
