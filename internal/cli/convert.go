package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ditl/internal/pipeline"
	"github.com/roach88/ditl/internal/trace"
)

// ConvertResult reports the traces written by a command.
type ConvertResult struct {
	Steps []pipeline.Result `json:"steps"`
}

func (r ConvertResult) WriteText(w io.Writer) error {
	for _, s := range r.Steps {
		if _, err := fmt.Fprintf(w, "%s: wrote %s from %s\n", s.Op, s.Dest, strings.Join(s.Sources, ", ")); err != nil {
			return err
		}
	}
	return nil
}

// convertFlags are shared by the single-step conversion commands.
type convertFlags struct {
	Type             string
	Overwrite        bool
	SnapshotInterval int64
}

func (f *convertFlags) register(cmd *cobra.Command, withType bool) {
	if withType {
		cmd.Flags().StringVar(&f.Type, "type", pipeline.TypeEdges, "payload type (edges|groups|windowed)")
	}
	cmd.Flags().BoolVar(&f.Overwrite, "overwrite", false, "replace an existing destination")
	cmd.Flags().Int64Var(&f.SnapshotInterval, "snapshot-interval", 0, "snapshot period of the destination (default: that of the sources)")
}

// pipelineOptions merges command flags over the environment.
func (o *RootOptions) pipelineOptions(overwrite bool, snapshotInterval int64) pipeline.Options {
	opts := pipeline.Options{Overwrite: overwrite, SnapshotInterval: o.Config.SnapshotInterval}
	if snapshotInterval > 0 {
		opts.SnapshotInterval = snapshotInterval
	}
	return opts
}

// runStep executes one conversion step.
func runStep(cmd *cobra.Command, rootOpts *RootOptions, flags *convertFlags, step pipeline.Step) error {
	if flags.SnapshotInterval < 0 {
		return NewExitError(ExitCommandError, "--snapshot-interval must not be negative")
	}
	step.Type = flags.Type
	return rootOpts.withStore(func(st trace.Store) error {
		start := time.Now()
		conv, err := pipeline.Build(cmd.Context(), st, step, rootOpts.pipelineOptions(flags.Overwrite, flags.SnapshotInterval))
		if err != nil {
			return err
		}
		if err := conv.Convert(cmd.Context()); err != nil {
			return err
		}
		res := ConvertResult{Steps: []pipeline.Result{{
			Op:      step.Op,
			Dest:    step.Dest,
			Sources: step.Inputs(),
			Elapsed: time.Since(start),
		}}}
		return rootOpts.formatter(cmd.OutOrStdout()).Success(res)
	})
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &convertFlags{}
	cmd := &cobra.Command{
		Use:   "merge <dest> <source>...",
		Short: "Merge stateful traces",
		Long: `Merge stateful traces into one over the time range they share.

The merged trace starts from the union of the sources' states and
interleaves their events by time, then by source priority. Node id maps are
unified; clashing ids are relabeled.

Examples:
  ditl merge campus building-a building-b
  ditl merge --type groups --overwrite all-groups g1 g2`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd, rootOpts, flags, pipeline.Step{Op: pipeline.OpMerge, Dest: args[0], Sources: args[1:]})
		},
	}
	flags.register(cmd, true)
	return cmd
}

// NewFilterCommand creates the filter command.
func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &convertFlags{}
	var nodes []string
	cmd := &cobra.Command{
		Use:   "filter <source> <dest>",
		Short: "Keep only a group of nodes",
		Long: `Copy a stateful trace keeping only what involves the given nodes.
Nodes are external ids from the trace's id map, or internal ids.

Example:
  ditl filter campus pair --nodes alice,bob`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd, rootOpts, flags, pipeline.Step{Op: pipeline.OpFilter, Source: args[0], Dest: args[1], Nodes: nodes})
		},
	}
	flags.register(cmd, true)
	cmd.Flags().StringSliceVar(&nodes, "nodes", nil, "nodes to keep (required)")
	_ = cmd.MarkFlagRequired("nodes")
	return cmd
}

// NewWindowCommand creates the window command.
func NewWindowCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &convertFlags{}
	var begin, end int64
	cmd := &cobra.Command{
		Use:   "window <source> <dest>",
		Short: "Cut a time window out of a trace",
		Long: `Copy the part of a stateful trace between --begin and --end, both
inclusive. The copy starts from the state at --begin.

Example:
  ditl window campus morning --begin 28800 --end 43200`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if end < begin {
				return NewExitError(ExitCommandError, fmt.Sprintf("--end %d is before --begin %d", end, begin))
			}
			return runStep(cmd, rootOpts, flags, pipeline.Step{Op: pipeline.OpWindow, Source: args[0], Dest: args[1], Begin: &begin, End: &end})
		},
	}
	flags.register(cmd, true)
	cmd.Flags().Int64Var(&begin, "begin", 0, "first instant kept (required)")
	cmd.Flags().Int64Var(&end, "end", 0, "last instant kept (required)")
	_ = cmd.MarkFlagRequired("begin")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// NewComponentsCommand creates the ccs command.
func NewComponentsCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &convertFlags{}
	cmd := &cobra.Command{
		Use:   "ccs <edges> <dest>",
		Short: "Track connected components",
		Long: `Turn an edge trace into a group trace of its connected components.

Example:
  ditl ccs campus clusters`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd, rootOpts, flags, pipeline.Step{Op: pipeline.OpComponents, Source: args[0], Dest: args[1]})
		},
	}
	flags.register(cmd, false)
	return cmd
}

// NewWindowedCommand creates the windowed command.
func NewWindowedCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &convertFlags{}
	var span float64
	cmd := &cobra.Command{
		Use:   "windowed <edges> <dest>",
		Short: "Attach recent and upcoming transitions to edges",
		Long: `Turn an edge trace into a windowed edge trace. At each instant, every
edge carries its ups and downs within --span seconds before and after it.

Example:
  ditl windowed campus contacts --span 600`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if span <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("--span %g must be positive", span))
			}
			return runStep(cmd, rootOpts, flags, pipeline.Step{Op: pipeline.OpWindowed, Source: args[0], Dest: args[1], Span: span})
		},
	}
	flags.register(cmd, false)
	cmd.Flags().Float64Var(&span, "span", 0, "window span in seconds (required)")
	_ = cmd.MarkFlagRequired("span")
	return cmd
}
