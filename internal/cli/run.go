package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/ditl/internal/pipeline"
	"github.com/roach88/ditl/internal/trace"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var overwrite, dryRun bool

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a conversion pipeline",
		Long: `Run the steps of a pipeline file in order, stopping at the first failure.

With --dry-run the pipeline is validated and printed without touching the
store.

Examples:
  ditl run campus.yaml
  ditl run campus.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pipeline.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid pipeline", err)
			}
			if dryRun {
				if rootOpts.Format == "json" {
					return rootOpts.formatter(cmd.OutOrStdout()).Success(p)
				}
				return pipeline.Encode(cmd.OutOrStdout(), p)
			}
			return rootOpts.withStore(func(st trace.Store) error {
				results, err := pipeline.Run(cmd.Context(), st, p, rootOpts.pipelineOptions(overwrite, 0))
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd.OutOrStdout()).Success(ConvertResult{Steps: results})
			})
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing destinations")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the pipeline only")
	return cmd
}
