package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/ditl/internal/idmap"
	ditl "github.com/roach88/ditl/internal/trace"
)

const tracerName = "github.com/roach88/ditl/internal/convert"

// Converter produces one destination trace.
type Converter interface {
	Convert(ctx context.Context) error
}

// Relabeler rewrites the node ids carried by events and states.
type Relabeler[E, S any] interface {
	RelabelEvent(event E, remap idmap.Remap) E
	RelabelState(state S, remap idmap.Remap) S
}

// Retainer restricts events and states to a set of node ids. The boolean
// result reports whether anything is left to keep.
type Retainer[E, S any] interface {
	RetainEvent(event E, group map[int]struct{}) (E, bool)
	RetainState(state S, group map[int]struct{}) (S, bool)
}

// ErrEmptyDomain is returned when the sources share no instant.
var ErrEmptyDomain = errors.New("sources have no common time range")

// run wraps a conversion in a span and start/finish logs.
func run(ctx context.Context, op, dest string, sources []string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "convert."+op,
		trace.WithAttributes(
			attribute.String("ditl.dest", dest),
			attribute.StringSlice("ditl.sources", sources),
		),
	)
	defer span.End()

	start := time.Now()
	slog.Info("conversion starting", "op", op, "dest", dest, "sources", sources)

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("conversion failed", "op", op, "dest", dest, "error", err)
		return fmt.Errorf("%s into %q: %w", op, dest, err)
	}

	slog.Info("conversion finished", "op", op, "dest", dest, "elapsed", time.Since(start))
	return nil
}

// bounds is the time range of a trace.
type bounds struct {
	min, max int64
}

func traceBounds[E any](tr *ditl.Trace[E]) (bounds, error) {
	minTime, err := tr.MinTime()
	if err != nil {
		return bounds{}, err
	}
	maxTime, err := tr.MaxTime()
	if err != nil {
		return bounds{}, err
	}
	return bounds{min: minTime, max: maxTime}, nil
}

// intersect returns the range common to every trace.
func intersect[E any](traces []*ditl.Trace[E]) (bounds, error) {
	out := bounds{min: -ditl.Infinity, max: ditl.Infinity}
	for _, tr := range traces {
		b, err := traceBounds(tr)
		if err != nil {
			return bounds{}, err
		}
		out.min = max(out.min, b.min)
		out.max = min(out.max, b.max)
	}
	if out.min > out.max {
		return bounds{}, fmt.Errorf("[%d, %d]: %w", out.min, out.max, ErrEmptyDomain)
	}
	return out, nil
}

// union returns the smallest range covering every trace.
func union[E any](traces []*ditl.Trace[E]) (bounds, error) {
	out := bounds{min: ditl.Infinity, max: -ditl.Infinity}
	for _, tr := range traces {
		b, err := traceBounds(tr)
		if err != nil {
			return bounds{}, err
		}
		out.min = min(out.min, b.min)
		out.max = max(out.max, b.max)
	}
	return out, nil
}

// propertySetter is the metadata half of a trace writer.
type propertySetter interface {
	SetProperty(key, value string)
	SetIntProperty(key string, value int64)
}

// copyTimeUnit sets the time unit of the last source that has one.
func copyTimeUnit[E any](w propertySetter, sources []*ditl.Trace[E]) {
	for i := len(sources) - 1; i >= 0; i-- {
		if unit, err := sources[i].TimeUnit(); err == nil {
			w.SetProperty(ditl.KeyTimeUnit, unit)
			return
		}
	}
}

// copyIDMap carries the id map of src over unchanged.
func copyIDMap[E any](w propertySetter, src *ditl.Trace[E]) error {
	raw, ok := src.Value(ditl.KeyIDMap)
	if !ok {
		return nil
	}
	if _, err := src.IDMap(); err != nil {
		return err
	}
	w.SetProperty(ditl.KeyIDMap, raw)
	return nil
}

func setBounds(w propertySetter, b bounds) {
	w.SetIntProperty(ditl.KeyMinTime, b.min)
	w.SetIntProperty(ditl.KeyMaxTime, b.max)
}

func names[E any](traces []*ditl.Trace[E]) []string {
	out := make([]string, len(traces))
	for i, tr := range traces {
		out[i] = tr.Name()
	}
	return out
}

func baseTraces[E, S any](traces []*ditl.StatefulTrace[E, S]) []*ditl.Trace[E] {
	out := make([]*ditl.Trace[E], len(traces))
	for i, tr := range traces {
		out[i] = tr.Trace
	}
	return out
}

// snapshotInterval picks the smallest snapshot period among sources.
func snapshotInterval[E, S any](sources []*ditl.StatefulTrace[E, S]) (int64, bool) {
	var best int64
	found := false
	for _, src := range sources {
		p, err := src.SnapshotMaxUpdateInterval()
		if err != nil || p <= 0 {
			continue
		}
		if !found || p < best {
			best, found = p, true
		}
	}
	return best, found
}

// closeAll closes every reader and joins their errors.
func closeAll[C io.Closer](closers []C) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
