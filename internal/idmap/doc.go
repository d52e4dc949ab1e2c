// Package idmap translates between external identifiers (human-meaningful
// strings) and the compact internal integers that trace payloads encode.
//
// A Map is the read-only view loaded from a trace's "id map" metadata. It
// never allocates: unknown external ids are reported as absent and unknown
// internal ids degrade to their decimal string.
//
// An Allocator is the only place identifiers are created. It is mutable,
// process-local state owned by a single conversion and passed along by the
// code driving it. Allocators are not safe for concurrent use.
//
// # Merging
//
// Merge folds another map into an allocator. Internal ids are copied
// verbatim whenever they are free. When an incoming internal id is already
// bound to a different external id, or the external id is already bound to
// another internal id, the incoming id is rewritten and the rewrite is
// returned as a Remap so the caller can relabel the merged payloads.
package idmap
