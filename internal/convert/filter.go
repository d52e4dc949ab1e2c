package convert

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/ditl/internal/idmap"
	ditl "github.com/roach88/ditl/internal/trace"
)

// Filter copies a stateful trace, keeping only what touches a set of
// internal node ids. The id map keeps the retained entries.
type Filter[E, S any] struct {
	dest   *ditl.StatefulTrace[E, S]
	src    *ditl.StatefulTrace[E, S]
	group  map[int]struct{}
	retain Retainer[E, S]
	opts   []ditl.WriterOption
}

// NewFilter returns a filter of src into dest.
func NewFilter[E, S any](dest, src *ditl.StatefulTrace[E, S], group map[int]struct{}, retain Retainer[E, S], opts ...ditl.WriterOption) *Filter[E, S] {
	return &Filter[E, S]{dest: dest, src: src, group: group, retain: retain, opts: opts}
}

func (c *Filter[E, S]) Convert(ctx context.Context) error {
	return run(ctx, "filter", c.dest.Name(), []string{c.src.Name()}, c.convert)
}

func (c *Filter[E, S]) convert(ctx context.Context) error {
	domain, err := traceBounds(c.src.Trace)
	if err != nil {
		return err
	}
	m, err := c.src.IDMap()
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
	var states []S
	for _, s := range r.ReferenceState() {
		if kept, ok := c.retain.RetainState(s, c.group); ok {
			states = append(states, kept)
		}
	}

	w, err := c.dest.OpenWriter(ctx, sourceSnapshotOption(c.src, c.opts)...)
	if err != nil {
		return err
	}
	if err := w.SetInitState(domain.min, states); err != nil {
		_ = w.Abort(ctx)
		return err
	}
	err = copyEvents(ctx, r, domain.max, func(t int64, ev E) error {
		if kept, ok := c.retain.RetainEvent(ev, c.group); ok {
			return w.Queue(t, kept)
		}
		return nil
	})
	if err != nil {
		_ = w.Abort(ctx)
		return err
	}

	copyTimeUnit(w, []*ditl.Trace[E]{c.src.Trace})
	setBounds(w, domain)
	if m != nil {
		if err := idmap.Filter(m, c.group).WriteTraceInfo(w); err != nil {
			_ = w.Abort(ctx)
			return err
		}
	}
	return w.Close(ctx)
}

// ResolveGroup turns node names into internal ids through m. Names absent
// from m are parsed as decimal internal ids.
func ResolveGroup(m *idmap.Map, nodes []string) (map[int]struct{}, error) {
	group := make(map[int]struct{}, len(nodes))
	for _, node := range nodes {
		if m != nil {
			if iid, ok := m.InternalID(node); ok {
				group[iid] = struct{}{}
				continue
			}
		}
		iid, err := strconv.Atoi(node)
		if err != nil {
			return nil, fmt.Errorf("unknown node %q", node)
		}
		group[iid] = struct{}{}
	}
	return group, nil
}

// copyEvents feeds every batch up to maxTime to fn.
func copyEvents[E, S any](ctx context.Context, r *ditl.StatefulReader[E, S], maxTime int64, fn func(int64, E) error) error {
	for r.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Time() > maxTime {
			break
		}
		for _, ev := range r.Batch() {
			if err := fn(r.Time(), ev); err != nil {
				return err
			}
		}
	}
	return r.Err()
}

// sourceSnapshotOption keeps the source snapshot period unless opts
// override it.
func sourceSnapshotOption[E, S any](src *ditl.StatefulTrace[E, S], opts []ditl.WriterOption) []ditl.WriterOption {
	if p, ok := snapshotInterval([]*ditl.StatefulTrace[E, S]{src}); ok {
		return append([]ditl.WriterOption{ditl.WithSnapshotInterval(p)}, opts...)
	}
	return opts
}
