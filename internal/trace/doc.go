// Package trace stores and reads time-indexed event traces.
//
// A trace is a named, append-once log of timestamped events persisted in a
// Store next to a metadata record (Info). Stateful traces additionally carry
// periodic full-state snapshots so the state at any time can be rebuilt
// without replaying the whole history.
//
// # Ordering
//
// Writers accept events slightly out of order. Each writer has a reorder
// window W: events are buffered until they are at least W older than the
// newest queued event and then emitted sorted by (time, arrival). An event
// older than the newest emitted time minus W can no longer be placed and is
// rejected with an OutOfOrderWrite error.
//
// The emitted stream is therefore sorted except for late events, each at
// most W behind what precedes it. Readers use the persisted
// "max update interval", which is never below that disorder, as their
// read-ahead: a batch at time t is only released once a frame later than
// t plus the interval has been seen.
//
// # Priorities
//
// Priority only matters when several streams are interleaved. Lower values
// sort first at equal timestamps; see OrderKey and Merger.
//
// # Snapshots
//
// A snapshot at time T is the state after every event with time < T. Seeking
// a StatefulReader to t loads the latest snapshot at or before t and replays
// the events in [T, t).
//
// Readers and writers are not safe for concurrent use. Distinct traces may be
// driven from distinct goroutines.
package trace
