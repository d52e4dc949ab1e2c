package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ditl/internal/graphs"
	"github.com/roach88/ditl/internal/idmap"
	"github.com/roach88/ditl/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	From, To    int64
	InternalIDs bool
	hasFrom     bool
	hasTo       bool
}

// TimelineResult is the state of a trace at From followed by its batches
// up to To.
type TimelineResult struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	From     int64           `json:"from"`
	To       int64           `json:"to"`
	State    []string        `json:"state"`
	Timeline []TimelineBatch `json:"timeline"`
}

// TimelineBatch lists the events sharing a timestamp.
type TimelineBatch struct {
	Time   int64    `json:"time"`
	Events []string `json:"events"`
}

func (r TimelineResult) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s (%s) from %d to %d\nstate at %d:\n", r.Name, r.Type, r.From, r.To, r.From); err != nil {
		return err
	}
	for _, s := range r.State {
		if _, err := fmt.Fprintf(w, "  %s\n", s); err != nil {
			return err
		}
	}
	for _, b := range r.Timeline {
		for _, ev := range b.Events {
			if _, err := fmt.Fprintf(w, "%d: %s\n", b.Time, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <name>",
		Short: "Print the timeline of a graph trace",
		Long: `Print the state of a graph trace at --from, then every event
up to --to. Both default to the trace's time range. Nodes are shown by
their external ids unless --internal-ids is set.

Examples:
  ditl trace campus
  ditl trace campus --from 100 --to 200 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.hasFrom = cmd.Flags().Changed("from")
			opts.hasTo = cmd.Flags().Changed("to")
			return rootOpts.withStore(func(st trace.Store) error {
				res, err := timeline(cmd.Context(), st, args[0], opts)
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd.OutOrStdout()).Success(res)
			})
		},
	}

	cmd.Flags().Int64Var(&opts.From, "from", 0, "first instant (default: trace start)")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last instant (default: trace end)")
	cmd.Flags().BoolVar(&opts.InternalIDs, "internal-ids", false, "show internal node ids")
	return cmd
}

func timeline(ctx context.Context, st trace.Store, name string, opts *TraceOptions) (TimelineResult, error) {
	info, err := st.Info(ctx, name)
	if err != nil {
		return TimelineResult{}, err
	}
	typ, _ := info.Get(trace.KeyType)
	switch typ {
	case graphs.EdgesType:
		tr, err := graphs.LoadEdgeTrace(ctx, st, name)
		if err != nil {
			return TimelineResult{}, err
		}
		return readTimeline(ctx, tr, opts)
	case graphs.GroupsType:
		tr, err := graphs.LoadGroupTrace(ctx, st, name)
		if err != nil {
			return TimelineResult{}, err
		}
		return readTimeline(ctx, tr, opts)
	case graphs.WindowedEdgesType:
		tr, err := graphs.LoadWindowedEdgeTrace(ctx, st, name)
		if err != nil {
			return TimelineResult{}, err
		}
		return readTimeline(ctx, tr, opts)
	default:
		return TimelineResult{}, NewExitError(ExitCommandError, fmt.Sprintf("trace %q has type %q; only graph traces have a timeline", name, typ))
	}
}

// labeler formats a payload with node ids translated through an id map.
type labeler interface {
	Label(m *idmap.Map) string
}

func readTimeline[E, S labeler](ctx context.Context, tr *trace.StatefulTrace[E, S], opts *TraceOptions) (TimelineResult, error) {
	from, err := tr.MinTime()
	if err != nil {
		return TimelineResult{}, err
	}
	to, err := tr.MaxTime()
	if err != nil {
		return TimelineResult{}, err
	}
	if opts.hasFrom {
		from = opts.From
	}
	if opts.hasTo {
		to = opts.To
	}
	if to < from {
		return TimelineResult{}, NewExitError(ExitCommandError, fmt.Sprintf("--to %d is before --from %d", to, from))
	}
	var ids *idmap.Map
	if !opts.InternalIDs {
		if ids, err = tr.IDMap(); err != nil {
			return TimelineResult{}, err
		}
	}

	r, err := tr.OpenReader(ctx)
	if err != nil {
		return TimelineResult{}, err
	}
	defer r.Close()
	if err := r.Seek(from); err != nil {
		return TimelineResult{}, err
	}

	res := TimelineResult{
		Name:     tr.Name(),
		Type:     tr.Type(),
		From:     from,
		To:       to,
		State:    labels(r.ReferenceState(), ids),
		Timeline: []TimelineBatch{},
	}
	for r.Next() {
		if r.Time() > to {
			break
		}
		res.Timeline = append(res.Timeline, TimelineBatch{Time: r.Time(), Events: labels(r.Batch(), ids)})
	}
	if err := r.Err(); err != nil {
		return TimelineResult{}, err
	}
	return res, nil
}

func labels[T labeler](items []T, ids *idmap.Map) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Label(ids)
	}
	return out
}
