package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/ditl/internal/idmap"
	ditl "github.com/roach88/ditl/internal/trace"
)

// StatefulMerge merges stateful traces of the same payload into one.
//
// The result covers the intersection of the sources' time ranges. Its
// initial state is the union of the sources' states at the start of that
// range, and its events are the sources' events interleaved by time, then
// reader priority. Node ids are unified through one id map; ids that clash
// are relabeled in events and states alike.
type StatefulMerge[E, S any] struct {
	dest    *ditl.StatefulTrace[E, S]
	sources []*ditl.StatefulTrace[E, S]
	relabel Relabeler[E, S]
	opts    []ditl.WriterOption
}

// NewStatefulMerge returns a merge of sources into dest. relabel may be nil
// when payloads carry no node ids.
func NewStatefulMerge[E, S any](dest *ditl.StatefulTrace[E, S], sources []*ditl.StatefulTrace[E, S], relabel Relabeler[E, S], opts ...ditl.WriterOption) *StatefulMerge[E, S] {
	return &StatefulMerge[E, S]{dest: dest, sources: sources, relabel: relabel, opts: opts}
}

func (c *StatefulMerge[E, S]) Convert(ctx context.Context) error {
	base := baseTraces(c.sources)
	return run(ctx, "stateful-merge", c.dest.Name(), names(base), func(ctx context.Context) error {
		return c.convert(ctx, base)
	})
}

func (c *StatefulMerge[E, S]) convert(ctx context.Context, base []*ditl.Trace[E]) (err error) {
	if len(c.sources) == 0 {
		return fmt.Errorf("no sources")
	}
	domain, err := intersect(base)
	if err != nil {
		return err
	}

	alloc, remaps, mapped, err := mergeIDMaps(base)
	if err != nil {
		return err
	}

	readers := make([]*ditl.StatefulReader[E, S], 0, len(c.sources))
	defer func() {
		if cerr := closeAll(readers); cerr != nil && err == nil {
			err = cerr
		}
	}()
	var states []S
	seen := make(map[string]bool)
	stateCodec := c.dest.StateCodec()
	for i, src := range c.sources {
		r, err := src.OpenReader(ctx)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		if err := r.Seek(domain.min); err != nil {
			return err
		}
		for _, s := range r.ReferenceState() {
			if c.relabel != nil {
				s = c.relabel.RelabelState(s, remaps[i])
			}
			key, err := stateCodec.Encode(s)
			if err != nil {
				return fmt.Errorf("encode state of %s: %w", src.Name(), err)
			}
			if seen[string(key)] {
				continue
			}
			seen[string(key)] = true
			states = append(states, s)
		}
	}

	opts := c.opts
	if p, ok := snapshotInterval(c.sources); ok {
		opts = append([]ditl.WriterOption{ditl.WithSnapshotInterval(p)}, opts...)
	}
	w, err := c.dest.OpenWriter(ctx, opts...)
	if err != nil {
		return err
	}
	if err := c.write(ctx, w, readers, remaps, states, domain); err != nil {
		_ = w.Abort(ctx)
		return err
	}

	copyTimeUnit(w, base)
	setBounds(w, domain)
	if mapped {
		if err := alloc.WriteTraceInfo(w); err != nil {
			_ = w.Abort(ctx)
			return err
		}
	}
	if _, ok := c.dest.Value(ditl.KeyDescription); !ok {
		w.SetProperty(ditl.KeyDescription, "merge of "+strings.Join(names(base), ", "))
	}
	return w.Close(ctx)
}

func (c *StatefulMerge[E, S]) write(ctx context.Context, w *ditl.StatefulWriter[E, S], readers []*ditl.StatefulReader[E, S], remaps []idmap.Remap, states []S, domain bounds) error {
	if err := w.SetInitState(domain.min, states); err != nil {
		return err
	}
	sources := make([]ditl.Source[E], len(readers))
	for i, r := range readers {
		sources[i] = r
	}
	m := ditl.NewMerger(sources...)
	for m.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.Time() > domain.max {
			break
		}
		for _, ev := range m.Batch() {
			if c.relabel != nil {
				ev = c.relabel.RelabelEvent(ev, remaps[m.Source()])
			}
			if err := w.Queue(m.Time(), ev); err != nil {
				return err
			}
		}
	}
	return m.Err()
}

// mergeIDMaps folds every source id map into one allocator. mapped is
// false when no source has an id map.
func mergeIDMaps[E any](sources []*ditl.Trace[E]) (*idmap.Allocator, []idmap.Remap, bool, error) {
	alloc := idmap.NewAllocator(0)
	remaps := make([]idmap.Remap, len(sources))
	mapped := false
	for i, src := range sources {
		m, err := src.IDMap()
		if err != nil {
			return nil, nil, false, err
		}
		if m != nil {
			mapped = true
		}
		remaps[i] = alloc.Merge(m)
	}
	return alloc, remaps, mapped, nil
}

// Merge interleaves stateless traces over the union of their time ranges.
// Graph payloads are all stateful, so pipelines never build one; it is
// for callers with their own stateless codecs.
type Merge[E any] struct {
	dest    *ditl.Trace[E]
	sources []*ditl.Trace[E]
	relabel func(E, idmap.Remap) E
	opts    []ditl.WriterOption
}

// NewMerge returns a merge of sources into dest. relabel may be nil.
func NewMerge[E any](dest *ditl.Trace[E], sources []*ditl.Trace[E], relabel func(E, idmap.Remap) E, opts ...ditl.WriterOption) *Merge[E] {
	return &Merge[E]{dest: dest, sources: sources, relabel: relabel, opts: opts}
}

func (c *Merge[E]) Convert(ctx context.Context) error {
	return run(ctx, "merge", c.dest.Name(), names(c.sources), c.convert)
}

func (c *Merge[E]) convert(ctx context.Context) (err error) {
	if len(c.sources) == 0 {
		return fmt.Errorf("no sources")
	}
	domain, err := union(c.sources)
	if err != nil {
		return err
	}
	alloc, remaps, mapped, err := mergeIDMaps(c.sources)
	if err != nil {
		return err
	}

	sources := make([]ditl.Source[E], 0, len(c.sources))
	readers := make([]*ditl.Reader[E], 0, len(c.sources))
	defer func() {
		if cerr := closeAll(readers); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for _, src := range c.sources {
		r, err := src.OpenReader(ctx)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		sources = append(sources, r)
	}

	w, err := c.dest.OpenWriter(ctx, c.opts...)
	if err != nil {
		return err
	}
	m := ditl.NewMerger(sources...)
	for m.Next() {
		for _, ev := range m.Batch() {
			if c.relabel != nil {
				ev = c.relabel(ev, remaps[m.Source()])
			}
			if err := w.Queue(m.Time(), ev); err != nil {
				_ = w.Abort(ctx)
				return err
			}
		}
	}
	if err := m.Err(); err != nil {
		_ = w.Abort(ctx)
		return err
	}

	copyTimeUnit(w, c.sources)
	setBounds(w, domain)
	if mapped {
		if err := alloc.WriteTraceInfo(w); err != nil {
			_ = w.Abort(ctx)
			return err
		}
	}
	return w.Close(ctx)
}
