package convert

import (
	"context"
	"fmt"

	ditl "github.com/roach88/ditl/internal/trace"
)

// TimeWindow copies the part of a stateful trace between begin and end,
// both inclusive. The copy starts from the state at begin.
type TimeWindow[E, S any] struct {
	dest       *ditl.StatefulTrace[E, S]
	src        *ditl.StatefulTrace[E, S]
	begin, end int64
	opts       []ditl.WriterOption
}

// NewTimeWindow returns a window of src into dest.
func NewTimeWindow[E, S any](dest, src *ditl.StatefulTrace[E, S], begin, end int64, opts ...ditl.WriterOption) *TimeWindow[E, S] {
	return &TimeWindow[E, S]{dest: dest, src: src, begin: begin, end: end, opts: opts}
}

func (c *TimeWindow[E, S]) Convert(ctx context.Context) error {
	return run(ctx, "window", c.dest.Name(), []string{c.src.Name()}, c.convert)
}

func (c *TimeWindow[E, S]) convert(ctx context.Context) error {
	full, err := traceBounds(c.src.Trace)
	if err != nil {
		return err
	}
	domain := bounds{min: max(c.begin, full.min), max: min(c.end, full.max)}
	if domain.min > domain.max {
		return fmt.Errorf("window [%d, %d] of [%d, %d]: %w", c.begin, c.end, full.min, full.max, ErrEmptyDomain)
	}

	r, err := c.src.OpenReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Seek(domain.min); err != nil {
		return err
	}

	w, err := c.dest.OpenWriter(ctx, sourceSnapshotOption(c.src, c.opts)...)
	if err != nil {
		return err
	}
	if err := w.SetInitState(domain.min, r.ReferenceState()); err != nil {
		_ = w.Abort(ctx)
		return err
	}
	if err := copyEvents(ctx, r, domain.max, w.Queue); err != nil {
		_ = w.Abort(ctx)
		return err
	}

	copyTimeUnit(w, []*ditl.Trace[E]{c.src.Trace})
	setBounds(w, domain)
	if err := copyIDMap(w, c.src.Trace); err != nil {
		_ = w.Abort(ctx)
		return err
	}
	return w.Close(ctx)
}
