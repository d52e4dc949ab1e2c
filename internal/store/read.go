package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/ditl/internal/trace"
)

// Info returns the metadata of a published trace.
func (s *Store) Info(ctx context.Context, name string) (trace.Info, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT info FROM traces WHERE name = ?
	`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return trace.Info{}, fmt.Errorf("trace %q: %w", name, trace.ErrNoSuchTrace)
	}
	if err != nil {
		return trace.Info{}, fmt.Errorf("query info of %q: %w", name, err)
	}
	info, err := unmarshalInfo(raw)
	if err != nil {
		return trace.Info{}, fmt.Errorf("trace %q: %w", name, err)
	}
	return info, nil
}

// Open returns a reader over one stream of a published trace. The BLOB is
// loaded whole; a stream that was never written reads as empty.
func (s *Store) Open(ctx context.Context, name, stream string) (io.ReadCloser, error) {
	var data []byte
	var found int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT data FROM streams WHERE trace_name = t.name AND stream = ?),
			1
		FROM traces t
		WHERE t.name = ?
	`, stream, name).Scan(&data, &found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trace %q: %w", name, trace.ErrNoSuchTrace)
	}
	if err != nil {
		return nil, fmt.Errorf("query stream %s of %q: %w", stream, name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Names lists published traces in ascending byte order.
// Returns an empty slice (not nil) for an empty store.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM traces ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trace names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan trace name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace names: %w", err)
	}
	return names, nil
}

// Reservation is a name held by a writer that has not published or aborted.
type Reservation struct {
	Name       string
	Token      string
	ReservedAt int64
}

// Reservations lists outstanding reservations, oldest first.
func (s *Store) Reservations(ctx context.Context) ([]Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, token, reserved_at
		FROM reservations
		ORDER BY reserved_at ASC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	out := []Reservation{}
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.Name, &r.Token, &r.ReservedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}
