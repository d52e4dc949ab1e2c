package trace

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/roach88/ditl/internal/idmap"
)

// Kind tags the two trace variants.
type Kind int

const (
	// Stateless traces are plain event logs.
	Stateless Kind = iota
	// Stateful traces add snapshots of the state the events mutate.
	Stateful
)

func (k Kind) String() string {
	if k == Stateful {
		return "stateful"
	}
	return "stateless"
}

// Trace is a named event log in a Store.
type Trace[E any] struct {
	name  string
	store Store
	info  Info
	kind  Kind
	codec Codec[E]
}

// New returns a descriptor for a trace that has not been written yet.
// No I/O happens until a writer is opened.
func New[E any](st Store, name, typ string, codec Codec[E]) *Trace[E] {
	return newTrace(st, name, seedInfo(name, typ), Stateless, codec)
}

// Load reads the metadata of a published trace.
func Load[E any](ctx context.Context, st Store, name string, codec Codec[E]) (*Trace[E], error) {
	info, err := st.Info(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load trace %q: %w", name, err)
	}
	return newTrace(st, name, info, Stateless, codec), nil
}

func newTrace[E any](st Store, name string, info Info, kind Kind, codec Codec[E]) *Trace[E] {
	return &Trace[E]{
		name:  name,
		store: st,
		info:  upgradeLegacyInfo(info.Clone(), kind),
		kind:  kind,
		codec: codec,
	}
}

func seedInfo(name, typ string) Info {
	var info Info
	info.Set(KeyName, name)
	info.Set(KeyType, typ)
	info.SetInt(KeyDefaultPriority, int64(PriorityDefault))
	info.Set(KeyTimeUnit, DefaultTimeUnit)
	return info
}

// Name returns the trace name.
func (t *Trace[E]) Name() string { return t.name }

// Store returns the store holding the trace.
func (t *Trace[E]) Store() Store { return t.store }

// Kind returns the trace variant.
func (t *Trace[E]) Kind() Kind { return t.kind }

// IsStateful reports whether the trace carries snapshots.
func (t *Trace[E]) IsStateful() bool { return t.kind == Stateful }

// Codec returns the event codec.
func (t *Trace[E]) Codec() Codec[E] { return t.codec }

// Info returns a copy of the metadata.
func (t *Trace[E]) Info() Info { return t.info.Clone() }

// Value returns the raw metadata value for key.
func (t *Trace[E]) Value(key string) (string, bool) {
	return t.info.Get(key)
}

// Type returns the type tag, or "" if unset.
func (t *Trace[E]) Type() string {
	v, _ := t.info.Get(KeyType)
	return v
}

// Description returns the free-form description, or "" if unset.
func (t *Trace[E]) Description() string {
	v, _ := t.info.Get(KeyDescription)
	return v
}

// MinTime returns the earliest time covered by the trace.
func (t *Trace[E]) MinTime() (int64, error) { return t.requiredInt(KeyMinTime) }

// MaxTime returns the latest time covered by the trace.
func (t *Trace[E]) MaxTime() (int64, error) { return t.requiredInt(KeyMaxTime) }

// MinUpdateInterval returns the smallest observed advance of the trace clock.
func (t *Trace[E]) MinUpdateInterval() (int64, error) { return t.requiredInt(KeyMinUpdateInterval) }

// MaxUpdateInterval returns the read-ahead bound of the event stream.
func (t *Trace[E]) MaxUpdateInterval() (int64, error) { return t.requiredInt(KeyMaxUpdateInterval) }

// DefaultPriority returns the priority readers get unless told otherwise.
func (t *Trace[E]) DefaultPriority() (Priority, error) {
	raw, ok := t.info.Get(KeyDefaultPriority)
	if !ok {
		return 0, malformed(t.name, KeyDefaultPriority, "required key missing", nil)
	}
	p, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || Priority(p) > PriorityLowest {
		return 0, malformed(t.name, KeyDefaultPriority, fmt.Sprintf("invalid priority %q", raw), err)
	}
	return Priority(p), nil
}

// TimeUnit returns the time unit name (e.g. "ms").
func (t *Trace[E]) TimeUnit() (string, error) {
	unit, ok := t.info.Get(KeyTimeUnit)
	if !ok {
		return "", malformed(t.name, KeyTimeUnit, "required key missing", nil)
	}
	if _, ok := TicsPerSecond(unit); !ok {
		return "", malformed(t.name, KeyTimeUnit, fmt.Sprintf("unknown time unit %q", unit), nil)
	}
	return unit, nil
}

// TicsPerSecond returns the number of time tics per second.
func (t *Trace[E]) TicsPerSecond() (int64, error) {
	unit, err := t.TimeUnit()
	if err != nil {
		return 0, err
	}
	tps, _ := TicsPerSecond(unit)
	return tps, nil
}

// IDMap returns the trace's id map, or nil if it has none.
func (t *Trace[E]) IDMap() (*idmap.Map, error) {
	raw, ok := t.info.Get(KeyIDMap)
	if !ok {
		return nil, nil
	}
	m, err := idmap.Parse(raw)
	if err != nil {
		return nil, malformed(t.name, KeyIDMap, "invalid id map", err)
	}
	return m, nil
}

func (t *Trace[E]) requiredInt(key string) (int64, error) {
	raw, ok := t.info.Get(key)
	if !ok {
		return 0, malformed(t.name, key, "required key missing", nil)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, malformed(t.name, key, fmt.Sprintf("invalid integer %q", raw), err)
	}
	return v, nil
}

// ReaderOption configures OpenReader.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	priority    Priority
	hasPriority bool
	offset      int64
}

// WithPriority overrides the trace's default priority.
func WithPriority(p Priority) ReaderOption {
	return func(c *readerConfig) {
		c.priority = p
		c.hasPriority = true
	}
}

// WithOffset shifts every time reported by the reader by offset.
func WithOffset(offset int64) ReaderOption {
	return func(c *readerConfig) { c.offset = offset }
}

// OpenReader returns a reader over the event stream. The stream is opened
// on first use.
func (t *Trace[E]) OpenReader(ctx context.Context, opts ...ReaderOption) (*Reader[E], error) {
	cfg, window, err := t.readerConfig(opts)
	if err != nil {
		return nil, err
	}
	open := func() (io.ReadCloser, error) {
		return t.store.Open(ctx, t.name, StreamEvents)
	}
	return newReader(t.name, open, t.codec, window, cfg.priority, cfg.offset), nil
}

func (t *Trace[E]) readerConfig(opts []ReaderOption) (readerConfig, int64, error) {
	var cfg readerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hasPriority {
		p, err := t.DefaultPriority()
		if err != nil {
			return cfg, 0, err
		}
		cfg.priority = p
	}
	window, err := t.MaxUpdateInterval()
	if err != nil {
		return cfg, 0, err
	}
	return cfg, window, nil
}

// WriterOption configures OpenWriter.
type WriterOption func(*writerConfig)

type writerConfig struct {
	window           int64
	hasWindow        bool
	overwrite        bool
	snapshotInterval int64
	timeUnit         string
}

// WithWindow sets the reorder window of the writer.
func WithWindow(w int64) WriterOption {
	return func(c *writerConfig) {
		c.window = w
		c.hasWindow = true
	}
}

// Overwrite replaces an existing trace of the same name on publish.
func Overwrite() WriterOption {
	return func(c *writerConfig) { c.overwrite = true }
}

// WithSnapshotInterval sets the snapshot period of a stateful writer.
func WithSnapshotInterval(p int64) WriterOption {
	return func(c *writerConfig) { c.snapshotInterval = p }
}

// WithTimeUnit sets the time unit of the written trace. A stateful writer
// without an explicit snapshot interval derives its period from it.
func WithTimeUnit(unit string) WriterOption {
	return func(c *writerConfig) { c.timeUnit = unit }
}

// OpenWriter reserves the trace name and returns a writer seeded with a copy
// of the trace's metadata.
func (t *Trace[E]) OpenWriter(ctx context.Context, opts ...WriterOption) (*Writer[E], error) {
	cfg := t.writerConfig(opts)
	seed, err := t.writerSeed(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := t.store.Create(ctx, t.name, cfg.overwrite)
	if err != nil {
		return nil, fmt.Errorf("open writer %q: %w", t.name, err)
	}
	w, err := newWriter(t.name, sink, t.codec, seed, cfg.window)
	if err != nil {
		_ = sink.Abort(ctx)
		return nil, err
	}
	return w, nil
}

// writerSeed returns the metadata a new writer starts from.
func (t *Trace[E]) writerSeed(cfg writerConfig) (Info, error) {
	seed := t.info.Clone()
	if cfg.timeUnit != "" {
		if _, ok := TicsPerSecond(cfg.timeUnit); !ok {
			return Info{}, fmt.Errorf("writer %q: unknown time unit %q", t.name, cfg.timeUnit)
		}
		seed.Set(KeyTimeUnit, cfg.timeUnit)
	}
	return seed, nil
}

func (t *Trace[E]) writerConfig(opts []WriterOption) writerConfig {
	var cfg writerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.hasWindow {
		// A trace being rewritten keeps the window it was read with.
		if w, err := t.MaxUpdateInterval(); err == nil && w >= 0 {
			cfg.window = w
		}
	}
	return cfg
}
