package trace

import (
	"context"
	"io"
)

// Store resolves trace names to metadata and byte streams.
//
// Implementations must be safe for concurrent lookups. Create reserves a
// name: while a reservation is outstanding, any other Create of the same
// name fails with ErrAlreadyExists, even with overwrite set.
type Store interface {
	// Info returns the metadata of a published trace.
	// Returns an error wrapping ErrNoSuchTrace if the trace does not exist.
	Info(ctx context.Context, name string) (Info, error)

	// Open returns a reader over one stream of a published trace.
	// A stream that was never written reads as empty.
	Open(ctx context.Context, name, stream string) (io.ReadCloser, error)

	// Create reserves name for writing. Without overwrite, an existing trace
	// is an ErrAlreadyExists error.
	Create(ctx context.Context, name string, overwrite bool) (Sink, error)

	// Names lists published traces in ascending order.
	Names(ctx context.Context) ([]string, error)
}

// Sink receives the streams of a trace being written. Nothing is visible to
// readers until Publish succeeds.
type Sink interface {
	// Stream returns the writer for a named stream.
	Stream(stream string) (io.Writer, error)

	// Publish atomically makes the streams and info visible under the
	// reserved name and releases the reservation.
	Publish(ctx context.Context, info Info) error

	// Abort drops everything written and releases the reservation.
	Abort(ctx context.Context) error
}
