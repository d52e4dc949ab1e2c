package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ditl/internal/trace"
)

type deleter interface {
	Delete(ctx context.Context, name string) error
}

type releaser interface {
	Release(ctx context.Context, name string) error
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <trace>...",
		Short: "Delete traces",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(func(st trace.Store) error {
				d, ok := st.(deleter)
				if !ok {
					return NewExitError(ExitCommandError, "store does not support deletion")
				}
				for _, name := range args {
					if err := d.Delete(cmd.Context(), name); err != nil {
						return err
					}
					if rootOpts.Verbose {
						fmt.Fprintf(cmd.ErrOrStderr(), "deleted %s\n", name)
					}
				}
				return rootOpts.formatter(cmd.OutOrStdout()).Success(ListResult{Names: args})
			})
		},
	}
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <trace>",
		Short: "Drop a stale write reservation",
		Long: `Drop the reservation left on a name by a writer that died before
publishing. A writer still holding the reservation fails when it publishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(func(st trace.Store) error {
				r, ok := st.(releaser)
				if !ok {
					return NewExitError(ExitCommandError, "store does not track reservations")
				}
				if err := r.Release(cmd.Context(), args[0]); err != nil {
					return err
				}
				return rootOpts.formatter(cmd.OutOrStdout()).Success(ListResult{Names: args})
			})
		},
	}
}
