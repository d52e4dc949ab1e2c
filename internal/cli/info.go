package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ditl/internal/graphs"
	"github.com/roach88/ditl/internal/trace"
)

// InfoResult describes one trace.
type InfoResult struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Kind       string            `json:"kind"`
	Batches    int               `json:"batches"`
	Events     int               `json:"events"`
	Properties map[string]string `json:"properties"`

	keys []string
}

// WriteText prints the summary followed by every property in key order.
func (r InfoResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "name: %s\n", r.Name)
	fmt.Fprintf(w, "type: %s\n", r.Type)
	fmt.Fprintf(w, "kind: %s\n", r.Kind)
	fmt.Fprintf(w, "events: %d in %d batches\n", r.Events, r.Batches)
	fmt.Fprintln(w, "properties:")
	for _, k := range r.keys {
		if _, err := fmt.Fprintf(w, "  %s: %s\n", k, r.Properties[k]); err != nil {
			return err
		}
	}
	return nil
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <trace>",
		Short: "Show trace metadata",
		Long: `Show the metadata of a trace and count its events.

Examples:
  ditl info building-a
  ditl info building-a --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withStore(func(st trace.Store) error {
				res, err := describe(cmd, st, args[0])
				if err != nil {
					return err
				}
				return rootOpts.formatter(cmd.OutOrStdout()).Success(res)
			})
		},
	}
}

func describe(cmd *cobra.Command, st trace.Store, name string) (InfoResult, error) {
	tr, err := trace.Load(cmd.Context(), st, name, rawCodec{})
	if err != nil {
		return InfoResult{}, err
	}
	info := tr.Info()
	res := InfoResult{
		Name:       name,
		Type:       tr.Type(),
		Kind:       kindOf(tr.Type()).String(),
		Properties: info.Map(),
		keys:       info.Keys(),
	}

	r, err := tr.OpenReader(cmd.Context())
	if err != nil {
		return InfoResult{}, err
	}
	defer r.Close()
	for r.Next() {
		res.Batches++
		res.Events += len(r.Batch())
	}
	if err := r.Err(); err != nil {
		return InfoResult{}, err
	}
	return res, nil
}

// kindOf reports the kind of traces with a known type tag.
func kindOf(typ string) trace.Kind {
	switch typ {
	case graphs.EdgesType, graphs.GroupsType:
		return trace.Stateful
	default:
		return trace.Stateless
	}
}

// rawCodec passes payloads through undecoded.
type rawCodec struct{}

func (rawCodec) Encode(item []byte) ([]byte, error) { return item, nil }
func (rawCodec) Decode(data []byte) ([]byte, error) { return data, nil }
