package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/ditl/internal/trace"
)

// Create reserves name and returns a sink that stages streams in memory.
func (s *Store) Create(ctx context.Context, name string, overwrite bool) (trace.Sink, error) {
	token := s.newToken()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if !overwrite {
			exists, err := traceExists(ctx, tx, name)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("trace %q: %w", name, trace.ErrAlreadyExists)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reservations (name, token, reserved_at)
			VALUES (?, ?, ?)
		`, name, token, s.now())
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("trace %q is being written: %w", name, trace.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("reserve %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sink{
		store:     s,
		name:      name,
		token:     token,
		overwrite: overwrite,
		streams:   make(map[string]*bytes.Buffer),
	}, nil
}

// Delete removes a published trace and its streams.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("trace %q: %w", name, trace.ErrNoSuchTrace)
	}
	return nil
}

// Release drops the reservation on name regardless of its owner. Use it to
// clear reservations left by a writer that died. A live writer holding the
// reservation fails on Publish.
func (s *Store) Release(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("release %q: %w", name, err)
	}
	return nil
}

func traceExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM traces WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query trace %q: %w", name, err)
	}
	return true, nil
}

func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// sink stages the streams of one trace until Publish.
type sink struct {
	store     *Store
	name      string
	token     string
	overwrite bool
	streams   map[string]*bytes.Buffer
	done      bool
}

func (k *sink) Stream(stream string) (io.Writer, error) {
	if k.done {
		return nil, fmt.Errorf("trace %q: sink already closed", k.name)
	}
	buf, ok := k.streams[stream]
	if !ok {
		buf = &bytes.Buffer{}
		k.streams[stream] = buf
	}
	return buf, nil
}

// Publish replaces any previous trace of the same name and releases the
// reservation, all in one transaction.
func (k *sink) Publish(ctx context.Context, info trace.Info) error {
	if k.done {
		return fmt.Errorf("trace %q: sink already closed", k.name)
	}
	infoJSON, err := marshalInfo(info)
	if err != nil {
		return fmt.Errorf("publish %q: %w", k.name, err)
	}
	err = k.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := k.checkReservation(ctx, tx); err != nil {
			return err
		}
		if !k.overwrite {
			exists, err := traceExists(ctx, tx, k.name)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("trace %q: %w", k.name, trace.ErrAlreadyExists)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM traces WHERE name = ?`, k.name); err != nil {
			return fmt.Errorf("replace %q: %w", k.name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO traces (name, info, published_at) VALUES (?, ?, ?)
		`, k.name, infoJSON, k.store.now()); err != nil {
			return fmt.Errorf("insert trace %q: %w", k.name, err)
		}
		for stream, buf := range k.streams {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO streams (trace_name, stream, data) VALUES (?, ?, ?)
			`, k.name, stream, buf.Bytes()); err != nil {
				return fmt.Errorf("insert stream %s of %q: %w", stream, k.name, err)
			}
		}
		return k.release(ctx, tx)
	})
	if err != nil {
		return err
	}
	k.done = true
	k.streams = nil
	return nil
}

// Abort drops the staged streams and the reservation. The reservation is
// released even when ctx is already cancelled.
func (k *sink) Abort(ctx context.Context) error {
	if k.done {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	err := k.store.withTx(ctx, func(tx *sql.Tx) error {
		return k.release(ctx, tx)
	})
	if err != nil {
		return err
	}
	k.done = true
	k.streams = nil
	return nil
}

func (k *sink) checkReservation(ctx context.Context, tx *sql.Tx) error {
	var token string
	err := tx.QueryRowContext(ctx, `SELECT token FROM reservations WHERE name = ?`, k.name).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && token != k.token) {
		return fmt.Errorf("trace %q: reservation was released", k.name)
	}
	if err != nil {
		return fmt.Errorf("check reservation of %q: %w", k.name, err)
	}
	return nil
}

func (k *sink) release(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM reservations WHERE name = ? AND token = ?
	`, k.name, k.token)
	if err != nil {
		return fmt.Errorf("release %q: %w", k.name, err)
	}
	return nil
}
