// Package store provides SQLite-backed durable storage for traces.
//
// A trace is one row of canonical JSON metadata plus one BLOB per stream.
// Writers stage their streams in memory and publish them in a single
// transaction, so readers never observe a partially written trace.
//
// # Reservations
//
// Create inserts a row into the reservations table keyed by trace name.
// The primary key makes concurrent Create calls race on the insert: exactly
// one wins and the others get trace.ErrAlreadyExists. Publish and Abort
// delete the row. Rows left by a crashed process are listed by Reservations
// and cleared with Release.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Streams are deleted with their trace
package store
