package trace

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
)

// defaultSnapshotSeconds is the snapshot period, in seconds of the trace's
// time unit, used when neither an option nor the metadata sets one.
const defaultSnapshotSeconds = 10

// StatefulTrace is a trace whose events mutate a state of S items, with
// periodic snapshots of that state.
type StatefulTrace[E, S any] struct {
	*Trace[E]
	states     Codec[S]
	newUpdater func() Updater[E, S]
}

// NewStateful returns a descriptor for a stateful trace that has not been
// written yet.
func NewStateful[E, S any](st Store, name, typ string, events Codec[E], states Codec[S], newUpdater func() Updater[E, S]) *StatefulTrace[E, S] {
	return &StatefulTrace[E, S]{
		Trace:      newTrace(st, name, seedInfo(name, typ), Stateful, events),
		states:     states,
		newUpdater: newUpdater,
	}
}

// LoadStateful reads the metadata of a published stateful trace.
func LoadStateful[E, S any](ctx context.Context, st Store, name string, events Codec[E], states Codec[S], newUpdater func() Updater[E, S]) (*StatefulTrace[E, S], error) {
	info, err := st.Info(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load trace %q: %w", name, err)
	}
	return &StatefulTrace[E, S]{
		Trace:      newTrace(st, name, info, Stateful, events),
		states:     states,
		newUpdater: newUpdater,
	}, nil
}

// StateCodec returns the state codec.
func (t *StatefulTrace[E, S]) StateCodec() Codec[S] { return t.states }

// NewUpdater returns a fresh state updater for this trace's types.
func (t *StatefulTrace[E, S]) NewUpdater() Updater[E, S] { return t.newUpdater() }

// SnapshotMinUpdateInterval returns the smallest gap between snapshots.
func (t *StatefulTrace[E, S]) SnapshotMinUpdateInterval() (int64, error) {
	return t.requiredInt(KeySnapshotMinUpdateInterval)
}

// SnapshotMaxUpdateInterval returns the largest gap between snapshots.
func (t *StatefulTrace[E, S]) SnapshotMaxUpdateInterval() (int64, error) {
	return t.requiredInt(KeySnapshotMaxUpdateInterval)
}

// LastSnapshotTime returns the time of the last snapshot.
func (t *StatefulTrace[E, S]) LastSnapshotTime() (int64, error) {
	return t.requiredInt(KeyLastSnapshotTime)
}

// OpenReader returns a stateful reader. Streams are opened on first use.
func (t *StatefulTrace[E, S]) OpenReader(ctx context.Context, opts ...ReaderOption) (*StatefulReader[E, S], error) {
	base, err := t.Trace.OpenReader(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &StatefulReader[E, S]{
		Reader: base,
		openSnapshots: func() (io.ReadCloser, error) {
			return t.store.Open(ctx, t.name, StreamSnapshots)
		},
		states:  t.states,
		updater: t.newUpdater(),
	}, nil
}

// OpenWriter reserves the trace name and returns a stateful writer.
func (t *StatefulTrace[E, S]) OpenWriter(ctx context.Context, opts ...WriterOption) (*StatefulWriter[E, S], error) {
	cfg := t.writerConfig(opts)
	seed, err := t.writerSeed(cfg)
	if err != nil {
		return nil, err
	}
	period := cfg.snapshotInterval
	if period <= 0 {
		period = t.defaultSnapshotInterval(cfg.timeUnit)
	}
	sink, err := t.store.Create(ctx, t.name, cfg.overwrite)
	if err != nil {
		return nil, fmt.Errorf("open writer %q: %w", t.name, err)
	}
	base, err := newWriter(t.name, sink, t.codec, seed, cfg.window)
	if err != nil {
		_ = sink.Abort(ctx)
		return nil, err
	}
	snaps, err := sink.Stream(StreamSnapshots)
	if err != nil {
		_ = sink.Abort(ctx)
		return nil, fmt.Errorf("writer %q: %w", t.name, err)
	}
	w := &StatefulWriter[E, S]{
		Writer:  base,
		snapFW:  newFrameWriter(snaps),
		states:  t.states,
		updater: t.newUpdater(),
		period:  period,
	}
	base.onEmit = w.observe
	return w, nil
}

// defaultSnapshotInterval returns the snapshot period of a writer that was
// not given one. unit, when set, overrides the trace's time unit.
func (t *StatefulTrace[E, S]) defaultSnapshotInterval(unit string) int64 {
	if p, err := t.SnapshotMaxUpdateInterval(); err == nil && p > 0 {
		return p
	}
	if tps, ok := TicsPerSecond(unit); ok {
		return defaultSnapshotSeconds * tps
	}
	if tps, err := t.TicsPerSecond(); err == nil {
		return defaultSnapshotSeconds * tps
	}
	return defaultSnapshotSeconds
}

// StatefulReader is a Reader that also maintains the state the events
// mutate.
type StatefulReader[E, S any] struct {
	*Reader[E]
	openSnapshots func() (io.ReadCloser, error)
	states        Codec[S]
	updater       Updater[E, S]
	positioned    bool
}

// ReferenceState returns the state as of the reader's position: the latest
// snapshot plus every batch delivered since.
func (r *StatefulReader[E, S]) ReferenceState() []S {
	return r.updater.States()
}

// Seek loads the latest snapshot at or before t and replays the events in
// between, so that ReferenceState is the state at t and the next batch has
// time >= t. Fails with NoPriorState if t precedes the first snapshot.
func (r *StatefulReader[E, S]) Seek(t int64) error {
	if r.closed {
		return ErrClosed
	}
	target := t - r.offset
	snapTime, states, err := r.loadSnapshot(target, false)
	if err != nil {
		r.err = err
		return err
	}
	return r.position(snapTime, states, t)
}

// Next advances to the next batch and applies it to the reference state.
// A reader that was never positioned starts at the first snapshot.
func (r *StatefulReader[E, S]) Next() bool {
	if !r.positioned {
		if r.closed {
			return r.Reader.Next()
		}
		snapTime, states, err := r.loadSnapshot(0, true)
		if err != nil {
			r.err = err
			return false
		}
		if err := r.position(snapTime, states, snapTime+r.offset); err != nil {
			return false
		}
	}
	if !r.Reader.Next() {
		return false
	}
	for _, event := range r.batch {
		if err := r.updater.Apply(r.time, event); err != nil {
			r.err = fmt.Errorf("apply event at %d to %s: %w", r.time, r.name, err)
			return false
		}
	}
	return true
}

func (r *StatefulReader[E, S]) position(snapTime int64, states []S, t int64) error {
	r.updater.SetState(states)
	r.positioned = true
	if err := r.Reader.Seek(snapTime + r.offset); err != nil {
		return err
	}
	for {
		next, ok := r.peek()
		if !ok || next >= t {
			break
		}
		if !r.Next() {
			break
		}
	}
	return r.err
}

// loadSnapshot returns the latest snapshot at or before target, or the
// first snapshot when first is set. Snapshot times increase, so the scan
// stops at the first frame past the target.
func (r *StatefulReader[E, S]) loadSnapshot(target int64, first bool) (int64, []S, error) {
	skip := func(int64) bool { return false }

	// Locate the frame without decoding payloads.
	found := -1
	var snapTime int64
	earliest := Infinity
	err := r.scanSnapshots(func(fr *frameReader) error {
		for i := 0; ; i++ {
			f, err := fr.next(skip)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if i == 0 {
				earliest = f.time
			}
			if !first && f.time > target {
				return nil
			}
			found, snapTime = i, f.time
			if first {
				return nil
			}
		}
	})
	if err != nil {
		return 0, nil, seekFailure(r.name, target+r.offset, err)
	}
	if found < 0 {
		if earliest < Infinity {
			earliest += r.offset
		}
		return 0, nil, noPriorState(r.name, target+r.offset, earliest)
	}

	// Decode only the chosen frame.
	var states []S
	err = r.scanSnapshots(func(fr *frameReader) error {
		for i := 0; i <= found; i++ {
			keep := i == found
			f, err := fr.next(func(int64) bool { return keep })
			if err != nil {
				return seekFailure(r.name, target+r.offset, unexpected(err))
			}
			if !keep {
				continue
			}
			for _, raw := range f.items {
				s, err := r.states.Decode(raw)
				if err != nil {
					return corrupt(r.name, f.offset, "cannot decode snapshot item", err)
				}
				states = append(states, s)
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return snapTime, states, nil
}

func (r *StatefulReader[E, S]) scanSnapshots(fn func(*frameReader) error) error {
	rc, err := r.openSnapshots()
	if err != nil {
		return fmt.Errorf("open snapshots of %s: %w", r.name, err)
	}
	defer rc.Close()
	return fn(newFrameReader(r.name, rc))
}

// StatefulWriter is a Writer that also records snapshots.
//
// SetInitState must be called before Queue. Snapshots are taken every
// snapshot period once no earlier event can still be queued, i.e. for times
// below the newest emitted time minus the reorder window.
type StatefulWriter[E, S any] struct {
	*Writer[E]
	snapFW  *frameWriter
	states  Codec[S]
	updater Updater[E, S]
	period  int64

	initialized bool
	initTime    int64

	// Emitted events not yet folded into the tracked state.
	pending timedHeap[E]
	pseq    uint64
	applyErr error

	lastSnap   int64
	snapCount  int
	minSnapGap int64
	maxSnapGap int64
}

// SnapshotInterval returns the snapshot period.
func (w *StatefulWriter[E, S]) SnapshotInterval() int64 { return w.period }

// SetInitState records the first snapshot. It must be called exactly once,
// before any Queue.
func (w *StatefulWriter[E, S]) SetInitState(t int64, states []S) error {
	if w.closed {
		return ErrClosed
	}
	if w.initialized {
		return fmt.Errorf("writer %q: initial state already set at %d", w.name, w.initTime)
	}
	if w.period <= 0 {
		return fmt.Errorf("writer %q: snapshot interval must be positive, got %d", w.name, w.period)
	}
	w.updater.SetState(append([]S(nil), states...))
	w.initialized = true
	w.initTime = t
	w.lastSnap = t
	return w.writeSnapshot(t)
}

// Queue adds a delta event. Events before the initial state time are out of
// order.
func (w *StatefulWriter[E, S]) Queue(t int64, item E) error {
	if w.closed {
		return ErrClosed
	}
	if !w.initialized {
		return uninitialized(w.name)
	}
	if t < w.initTime {
		return outOfOrder(w.name, t, w.initTime)
	}
	if err := w.Writer.Queue(t, item); err != nil {
		return err
	}
	return w.advance()
}

// Flush emits every buffered event and takes the snapshots that became due.
func (w *StatefulWriter[E, S]) Flush() error {
	if err := w.Writer.Flush(); err != nil {
		return err
	}
	return w.advance()
}

// Close folds the remaining events, writes the snapshot metadata, and
// publishes the trace.
func (w *StatefulWriter[E, S]) Close(ctx context.Context) error {
	if w.closed {
		return ErrClosed
	}
	if !w.initialized {
		return w.fail(ctx, uninitialized(w.name))
	}
	if err := w.flushAll(); err != nil {
		return w.fail(ctx, err)
	}
	if err := w.applyBefore(Infinity); err != nil {
		return w.fail(ctx, err)
	}
	if err := w.snapFW.finish(); err != nil {
		return w.fail(ctx, fmt.Errorf("flush snapshots of %q: %w", w.name, err))
	}

	_, maxTime := w.timeBounds()
	if !w.emittedAny || maxTime < w.initTime {
		maxTime = w.initTime
	}
	w.deriveInfo(w.initTime, maxTime)

	minGap, maxGap := w.period, w.period
	if w.snapCount >= 2 {
		minGap, maxGap = w.minSnapGap, w.maxSnapGap
	}
	w.info.SetInt(KeySnapshotMinUpdateInterval, minGap)
	w.info.SetInt(KeySnapshotMaxUpdateInterval, maxGap)
	w.info.SetInt(KeyLastSnapshotTime, w.lastSnap)
	return w.publish(ctx)
}

func (w *StatefulWriter[E, S]) observe(t int64, item E) {
	heap.Push(&w.pending, timed[E]{time: t, seq: w.pseq, value: item})
	w.pseq++
}

// advance folds every event that can no longer be preceded by a new one.
func (w *StatefulWriter[E, S]) advance() error {
	if !w.emittedAny {
		return nil
	}
	return w.applyBefore(w.highestEmitted - w.window)
}

func (w *StatefulWriter[E, S]) applyBefore(horizon int64) error {
	for len(w.pending) > 0 && w.pending[0].time < horizon {
		next := heap.Pop(&w.pending).(timed[E])
		for w.lastSnap+w.period <= next.time {
			if err := w.writeSnapshot(w.lastSnap + w.period); err != nil {
				return err
			}
		}
		if err := w.updater.Apply(next.time, next.value); err != nil {
			return fmt.Errorf("writer %q: apply event at %d: %w", w.name, next.time, err)
		}
	}
	return nil
}

func (w *StatefulWriter[E, S]) writeSnapshot(t int64) error {
	states := w.updater.States()
	items := make([][]byte, 0, len(states))
	for _, s := range states {
		data, err := w.states.Encode(s)
		if err != nil {
			return fmt.Errorf("encode snapshot item at %d: %w", t, err)
		}
		items = append(items, data)
	}
	if err := w.snapFW.write(t, items); err != nil {
		return fmt.Errorf("write snapshot at %d: %w", t, err)
	}
	if w.snapCount > 0 {
		gap := t - w.lastSnap
		if w.snapCount == 1 || gap < w.minSnapGap {
			w.minSnapGap = gap
		}
		if w.snapCount == 1 || gap > w.maxSnapGap {
			w.maxSnapGap = gap
		}
	}
	w.lastSnap = t
	w.snapCount++
	return nil
}
