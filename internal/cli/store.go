package cli

import (
	"io"

	"github.com/roach88/ditl/internal/store"
	"github.com/roach88/ditl/internal/store/dir"
	"github.com/roach88/ditl/internal/trace"
)

// openStore opens the configured store. The returned func releases it.
func (o *RootOptions) openStore() (trace.Store, func() error, error) {
	if root, ok := o.Config.StoreDir(); ok {
		st, err := dir.Open(root)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err)
		}
		return st, func() error { return nil }, nil
	}
	st, err := store.Open(o.Config.Store)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, st.Close, nil
}

// withStore runs fn against the configured store and closes it afterwards.
func (o *RootOptions) withStore(fn func(trace.Store) error) (err error) {
	st, closeStore, err := o.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(st)
}

func (o *RootOptions) formatter(w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: w}
}
