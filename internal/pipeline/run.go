package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/ditl/internal/convert"
	"github.com/roach88/ditl/internal/graphs"
	"github.com/roach88/ditl/internal/trace"
)

// Result reports one executed step.
type Result struct {
	Op      string        `json:"op"`
	Dest    string        `json:"dest"`
	Sources []string      `json:"sources"`
	Elapsed time.Duration `json:"elapsed"`
}

// Options tune how steps write their destinations.
type Options struct {
	// Overwrite replaces existing destinations.
	Overwrite bool
	// SnapshotInterval, when positive, sets the destination snapshot period.
	SnapshotInterval int64
}

// WriterOptions returns the trace writer options for a step.
func (o Options) WriterOptions(step Step) []trace.WriterOption {
	var opts []trace.WriterOption
	if o.Overwrite || step.Overwrite {
		opts = append(opts, trace.Overwrite())
	}
	if o.SnapshotInterval > 0 {
		opts = append(opts, trace.WithSnapshotInterval(o.SnapshotInterval))
	}
	return opts
}

// Run executes the steps of p in order and stops at the first failure.
// Results of the steps that completed are returned alongside the error.
func Run(ctx context.Context, st trace.Store, p *Pipeline, defaults Options) ([]Result, error) {
	opts := Options{
		Overwrite:        defaults.Overwrite || p.Overwrite,
		SnapshotInterval: defaults.SnapshotInterval,
	}
	if p.SnapshotInterval > 0 {
		opts.SnapshotInterval = p.SnapshotInterval
	}

	slog.Info("pipeline starting", "pipeline", p.Name, "steps", len(p.Steps))
	results := make([]Result, 0, len(p.Steps))
	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		conv, err := Build(ctx, st, step, opts)
		if err != nil {
			return results, fmt.Errorf("steps[%d] (%s %s): %w", i, step.Op, step.Dest, err)
		}
		if err := conv.Convert(ctx); err != nil {
			return results, fmt.Errorf("steps[%d]: %w", i, err)
		}
		results = append(results, Result{
			Op:      step.Op,
			Dest:    step.Dest,
			Sources: step.Inputs(),
			Elapsed: time.Since(start),
		})
	}
	slog.Info("pipeline finished", "pipeline", p.Name)
	return results, nil
}

// Build loads the step's sources and returns its converter.
func Build(ctx context.Context, st trace.Store, step Step, opts Options) (convert.Converter, error) {
	if step.Op == OpComponents {
		src, err := graphs.LoadEdgeTrace(ctx, st, step.Source)
		if err != nil {
			return nil, err
		}
		dest := graphs.NewGroupTrace(st, step.Dest)
		return convert.NewConnectedComponents(dest, src, opts.WriterOptions(step)...), nil
	}
	if step.Op == OpWindowed {
		src, err := graphs.LoadEdgeTrace(ctx, st, step.Source)
		if err != nil {
			return nil, err
		}
		span, err := SpanTics(src.Trace, step.Span)
		if err != nil {
			return nil, err
		}
		dest := graphs.NewWindowedEdgeTrace(st, step.Dest)
		return convert.NewWindowedEdges(dest, src, span, opts.WriterOptions(step)...), nil
	}

	switch step.PayloadType() {
	case TypeEdges:
		return build(ctx, st, graphs.Edges, step, opts)
	case TypeGroups:
		return build(ctx, st, graphs.Groups, step, opts)
	case TypeWindowedEdges:
		return build(ctx, st, graphs.WindowedEdges, step, opts)
	default:
		return nil, fmt.Errorf("unknown payload type %q", step.Type)
	}
}

// SpanTics converts a span in seconds to tics of tr's time unit.
func SpanTics[E any](tr *trace.Trace[E], seconds float64) (int64, error) {
	tps, err := tr.TicsPerSecond()
	if err != nil {
		return 0, err
	}
	span := int64(math.Round(seconds * float64(tps)))
	if span <= 0 {
		return 0, fmt.Errorf("span %gs is below one tic of %q", seconds, tr.Name())
	}
	return span, nil
}

func build[E, S any](ctx context.Context, st trace.Store, payload graphs.Payload[E, S], step Step, opts Options) (convert.Converter, error) {
	dest := payload.New(st, step.Dest)
	wopts := opts.WriterOptions(step)

	switch step.Op {
	case OpMerge:
		sources := make([]*trace.StatefulTrace[E, S], 0, len(step.Sources))
		for _, name := range step.Sources {
			src, err := payload.Load(ctx, st, name)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
		return convert.NewStatefulMerge(dest, sources, payload, wopts...), nil

	case OpFilter:
		src, err := payload.Load(ctx, st, step.Source)
		if err != nil {
			return nil, err
		}
		m, err := src.IDMap()
		if err != nil {
			return nil, err
		}
		group, err := convert.ResolveGroup(m, step.Nodes)
		if err != nil {
			return nil, err
		}
		return convert.NewFilter(dest, src, group, payload, wopts...), nil

	case OpWindow:
		if step.Begin == nil || step.End == nil {
			return nil, fmt.Errorf("window needs begin and end")
		}
		src, err := payload.Load(ctx, st, step.Source)
		if err != nil {
			return nil, err
		}
		return convert.NewTimeWindow(dest, src, *step.Begin, *step.End, wopts...), nil

	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}
