package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ditl/internal/store"
	"github.com/roach88/ditl/internal/trace"
)

// ListResult holds published names or pending reservations.
type ListResult struct {
	Names   []string         `json:"names,omitempty"`
	Pending []PendingWrite   `json:"pending,omitempty"`
	pending bool
}

// PendingWrite is a name reserved by a writer that has not published.
type PendingWrite struct {
	Name       string `json:"name"`
	ReservedAt string `json:"reserved_at"`
}

func (r ListResult) WriteText(w io.Writer) error {
	if r.pending {
		for _, p := range r.Pending {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", p.Name, p.ReservedAt); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range r.Names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}

// reservationLister is implemented by stores that track reservations.
type reservationLister interface {
	Reservations(ctx context.Context) ([]store.Reservation, error)
}

// NewListCommand creates the ls command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List traces",
		Long: `List published traces, or with --pending the names reserved by
writers that have not published yet.

Examples:
  ditl ls
  ditl ls --pending --store ./traces.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(func(st trace.Store) error {
				res := ListResult{pending: pending}
				if pending {
					lister, ok := st.(reservationLister)
					if !ok {
						return NewExitError(ExitCommandError, "store does not track reservations")
					}
					rs, err := lister.Reservations(cmd.Context())
					if err != nil {
						return err
					}
					res.Pending = make([]PendingWrite, len(rs))
					for i, r := range rs {
						res.Pending[i] = PendingWrite{
							Name:       r.Name,
							ReservedAt: time.Unix(r.ReservedAt, 0).UTC().Format(time.RFC3339),
						}
					}
				} else {
					names, err := st.Names(cmd.Context())
					if err != nil {
						return err
					}
					res.Names = names
				}
				return rootOpts.formatter(cmd.OutOrStdout()).Success(res)
			})
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "list reservations instead of published traces")
	return cmd
}
