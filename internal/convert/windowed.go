package convert

import (
	"context"
	"fmt"

	"github.com/roach88/ditl/internal/graphs"
	ditl "github.com/roach88/ditl/internal/trace"
)

// WindowedEdges turns an edge trace into a windowed edge trace: at each
// time t, every edge carries its ups and downs within span before and
// after t. Edges that are up at the start of the source without a later
// transition never appear.
type WindowedEdges struct {
	dest *ditl.StatefulTrace[graphs.WindowedEdgeEvent, graphs.WindowedEdge]
	src  *ditl.StatefulTrace[graphs.EdgeEvent, graphs.Edge]
	span int64
	opts []ditl.WriterOption
}

// NewWindowedEdges returns a conversion of src into dest with the given
// span in tics.
func NewWindowedEdges(dest *ditl.StatefulTrace[graphs.WindowedEdgeEvent, graphs.WindowedEdge], src *ditl.StatefulTrace[graphs.EdgeEvent, graphs.Edge], span int64, opts ...ditl.WriterOption) *WindowedEdges {
	return &WindowedEdges{dest: dest, src: src, span: span, opts: opts}
}

func (c *WindowedEdges) Convert(ctx context.Context) error {
	return run(ctx, "windowed-edges", c.dest.Name(), []string{c.src.Name()}, c.convert)
}

type timedEdgeEvent struct {
	time int64
	ev   graphs.EdgeEvent
}

func (c *WindowedEdges) convert(ctx context.Context) error {
	if c.span <= 0 {
		return fmt.Errorf("window span %d must be positive", c.span)
	}
	domain, err := traceBounds(c.src.Trace)
	if err != nil {
		return err
	}
	r, err := c.src.OpenReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Seek(domain.min); err != nil {
		return err
	}

	// Transitions before the horizon are already in the look-ahead of the
	// initial state.
	horizon := domain.min + c.span
	var early []timedEdgeEvent
	more := r.Next()
	for ; more; more = r.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Time() > domain.max || r.Time() >= horizon {
			break
		}
		for _, ev := range r.Batch() {
			early = append(early, timedEdgeEvent{time: r.Time(), ev: ev})
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	initial := graphs.NewWindowedEdgeUpdater()
	for _, te := range early {
		if err := initial.Apply(domain.min, windowEvent(graphs.WindowAdd, te.time, te.ev)); err != nil {
			return err
		}
	}

	opts := append(sourceSnapshotOption(c.src, c.opts), ditl.WithWindow(2*c.span))
	w, err := c.dest.OpenWriter(ctx, opts...)
	if err != nil {
		return err
	}
	if err := w.SetInitState(domain.min, initial.States()); err != nil {
		_ = w.Abort(ctx)
		return err
	}

	queue := func(t int64, ev graphs.WindowedEdgeEvent) error {
		if t > domain.max {
			return nil
		}
		return w.Queue(t, ev)
	}
	shift := func(te timedEdgeEvent) error {
		if err := queue(te.time, windowEvent(graphs.WindowShift, te.time, te.ev)); err != nil {
			return err
		}
		return queue(te.time+c.span, windowEvent(graphs.WindowDrop, te.time, te.ev))
	}
	for _, te := range early {
		if err := shift(te); err != nil {
			_ = w.Abort(ctx)
			return err
		}
	}
	for ; more; more = r.Next() {
		if err := ctx.Err(); err != nil {
			_ = w.Abort(ctx)
			return err
		}
		if r.Time() > domain.max {
			break
		}
		for _, ev := range r.Batch() {
			te := timedEdgeEvent{time: r.Time(), ev: ev}
			if err := queue(te.time-c.span, windowEvent(graphs.WindowAdd, te.time, te.ev)); err != nil {
				_ = w.Abort(ctx)
				return err
			}
			if err := shift(te); err != nil {
				_ = w.Abort(ctx)
				return err
			}
		}
	}
	if err := r.Err(); err != nil {
		_ = w.Abort(ctx)
		return err
	}

	copyTimeUnit(w, []*ditl.Trace[graphs.EdgeEvent]{c.src.Trace})
	setBounds(w, domain)
	if err := copyIDMap(w, c.src.Trace); err != nil {
		_ = w.Abort(ctx)
		return err
	}
	w.SetIntProperty(graphs.KeyWindow, c.span)
	w.SetProperty(ditl.KeyDescription, fmt.Sprintf("windowed edges of %s", c.src.Name()))
	return w.Close(ctx)
}

func windowEvent(typ graphs.WindowedEdgeEventType, t int64, ev graphs.EdgeEvent) graphs.WindowedEdgeEvent {
	return graphs.WindowedEdgeEvent{
		Type:       typ,
		Edge:       ev.Edge,
		Transition: graphs.Transition{Time: t, Up: ev.Type == graphs.EdgeUp},
	}
}
