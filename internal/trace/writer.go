package trace

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
)

// Writer appends events to a new trace and publishes it on Close.
//
// Queue accepts events out of order within the reorder window. Close derives
// the time bounds and update intervals from the emitted stream.
type Writer[E any] struct {
	name     string
	sink     Sink
	fw       *frameWriter
	codec    Codec[E]
	info     Info
	explicit map[string]bool
	window   int64

	buf            timedHeap[E]
	seq            uint64
	highestQueued  int64
	queuedAny      bool
	highestEmitted int64
	emittedAny     bool

	frameTime  int64
	frameItems [][]byte
	frameOpen  bool

	minTime     int64
	minGap      int64
	maxGap      int64
	gaps        bool
	maxDisorder int64

	// onEmit observes every event in emission order.
	onEmit func(t int64, item E)
	closed bool
}

func newWriter[E any](name string, sink Sink, codec Codec[E], seed Info, window int64) (*Writer[E], error) {
	if window < 0 {
		return nil, fmt.Errorf("writer %q: negative reorder window %d", name, window)
	}
	events, err := sink.Stream(StreamEvents)
	if err != nil {
		return nil, fmt.Errorf("writer %q: %w", name, err)
	}
	seed.Set(KeyName, name)
	return &Writer[E]{
		name:     name,
		sink:     sink,
		fw:       newFrameWriter(events),
		codec:    codec,
		info:     seed,
		explicit: make(map[string]bool),
		window:   window,
	}, nil
}

// Name returns the trace name.
func (w *Writer[E]) Name() string { return w.name }

// Window returns the reorder window.
func (w *Writer[E]) Window() int64 { return w.window }

// Info returns a copy of the metadata set so far.
func (w *Writer[E]) Info() Info { return w.info.Clone() }

// SetProperty sets a metadata key. Explicit time bounds win over the ones
// Close derives.
func (w *Writer[E]) SetProperty(key, value string) {
	w.info.Set(key, value)
	w.explicit[key] = true
}

// SetIntProperty sets a metadata key to the decimal form of value.
func (w *Writer[E]) SetIntProperty(key string, value int64) {
	w.info.SetInt(key, value)
	w.explicit[key] = true
}

// Queue adds an event at time t. It fails with OutOfOrderWrite when t is
// older than the newest emitted time minus the window.
func (w *Writer[E]) Queue(t int64, item E) error {
	if w.closed {
		return ErrClosed
	}
	if w.emittedAny && t < w.highestEmitted-w.window {
		return outOfOrder(w.name, t, w.highestEmitted-w.window)
	}
	heap.Push(&w.buf, timed[E]{time: t, seq: w.seq, value: item})
	w.seq++
	if !w.queuedAny || t > w.highestQueued {
		w.highestQueued = t
		w.queuedAny = true
	}
	return w.emitThrough(w.highestQueued - w.window)
}

// Flush emits every buffered event and pushes the encoded stream to the sink.
func (w *Writer[E]) Flush() error {
	if w.closed {
		return ErrClosed
	}
	return w.flushAll()
}

// Close flushes, derives metadata, and publishes the trace. The writer is
// unusable afterwards. On failure the reservation is released.
func (w *Writer[E]) Close(ctx context.Context) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.flushAll(); err != nil {
		return w.fail(ctx, err)
	}
	minTime, maxTime := w.timeBounds()
	w.deriveInfo(minTime, maxTime)
	return w.publish(ctx)
}

// Abort discards everything written and releases the trace name. It still
// releases the name when ctx is cancelled.
func (w *Writer[E]) Abort(ctx context.Context) error {
	if w.closed {
		return nil
	}
	if err := w.sink.Abort(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("abort %q: %w", w.name, err)
	}
	w.closed = true
	return nil
}

func (w *Writer[E]) fail(ctx context.Context, err error) error {
	if abortErr := w.Abort(ctx); abortErr != nil {
		return errors.Join(err, abortErr)
	}
	return err
}

func (w *Writer[E]) publish(ctx context.Context) error {
	if err := w.sink.Publish(ctx, w.info.Clone()); err != nil {
		return w.fail(ctx, fmt.Errorf("publish %q: %w", w.name, err))
	}
	w.closed = true
	return nil
}

func (w *Writer[E]) flushAll() error {
	for len(w.buf) > 0 {
		next := heap.Pop(&w.buf).(timed[E])
		if err := w.emit(next.time, next.value); err != nil {
			return err
		}
	}
	if err := w.closeFrame(); err != nil {
		return err
	}
	if err := w.fw.finish(); err != nil {
		return fmt.Errorf("flush %q: %w", w.name, err)
	}
	return nil
}

func (w *Writer[E]) emitThrough(bound int64) error {
	for len(w.buf) > 0 && w.buf[0].time <= bound {
		next := heap.Pop(&w.buf).(timed[E])
		if err := w.emit(next.time, next.value); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer[E]) emit(t int64, item E) error {
	data, err := w.codec.Encode(item)
	if err != nil {
		return fmt.Errorf("encode event at %d: %w", t, err)
	}
	if w.frameOpen && t != w.frameTime {
		if err := w.closeFrame(); err != nil {
			return err
		}
	}
	w.frameTime = t
	w.frameOpen = true
	w.frameItems = append(w.frameItems, data)

	switch {
	case !w.emittedAny:
		w.minTime = t
		w.highestEmitted = t
		w.emittedAny = true
	case t > w.highestEmitted:
		gap := t - w.highestEmitted
		if !w.gaps || gap < w.minGap {
			w.minGap = gap
		}
		if !w.gaps || gap > w.maxGap {
			w.maxGap = gap
		}
		w.gaps = true
		w.highestEmitted = t
	case t < w.highestEmitted:
		if d := w.highestEmitted - t; d > w.maxDisorder {
			w.maxDisorder = d
		}
		if t < w.minTime {
			w.minTime = t
		}
	}
	if w.onEmit != nil {
		w.onEmit(t, item)
	}
	return nil
}

func (w *Writer[E]) closeFrame() error {
	if !w.frameOpen {
		return nil
	}
	if err := w.fw.write(w.frameTime, w.frameItems); err != nil {
		return fmt.Errorf("write frame at %d: %w", w.frameTime, err)
	}
	w.frameItems = w.frameItems[:0]
	w.frameOpen = false
	return nil
}

// timeBounds returns the emitted time range, or [0, 0] for an empty stream.
func (w *Writer[E]) timeBounds() (int64, int64) {
	if !w.emittedAny {
		return 0, 0
	}
	return w.minTime, w.highestEmitted
}

// deriveInfo records the observed bounds. Time bounds may have been set
// explicitly; update intervals are always derived since readers depend on
// the max update interval covering the largest disorder.
func (w *Writer[E]) deriveInfo(minTime, maxTime int64) {
	maxUpdate := w.maxGap
	if w.maxDisorder > maxUpdate {
		maxUpdate = w.maxDisorder
	}
	minUpdate := maxUpdate
	if w.gaps && w.minGap < minUpdate {
		minUpdate = w.minGap
	}
	w.derive(KeyMinTime, minTime)
	w.derive(KeyMaxTime, maxTime)
	w.info.SetInt(KeyMinUpdateInterval, minUpdate)
	w.info.SetInt(KeyMaxUpdateInterval, maxUpdate)
}

func (w *Writer[E]) derive(key string, value int64) {
	if !w.explicit[key] {
		w.info.SetInt(key, value)
	}
}
