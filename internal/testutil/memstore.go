package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/roach88/ditl/internal/trace"
)

// MemStore is an in-memory trace.Store for tests. Like a transactional
// store, its sinks refuse to Publish or Abort under a cancelled context.
//
// Thread-safety: All methods are safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	traces   map[string]memTrace
	reserved map[string]bool
}

type memTrace struct {
	info    trace.Info
	streams map[string][]byte
}

var _ trace.Store = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{traces: make(map[string]memTrace), reserved: make(map[string]bool)}
}

func (s *MemStore) Info(_ context.Context, name string) (trace.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.traces[name]
	if !ok {
		return trace.Info{}, fmt.Errorf("trace %q: %w", name, trace.ErrNoSuchTrace)
	}
	return tr.info.Clone(), nil
}

func (s *MemStore) Open(_ context.Context, name, stream string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.traces[name]
	if !ok {
		return nil, fmt.Errorf("trace %q: %w", name, trace.ErrNoSuchTrace)
	}
	return io.NopCloser(bytes.NewReader(tr.streams[stream])), nil
}

func (s *MemStore) Create(_ context.Context, name string, overwrite bool) (trace.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[name] {
		return nil, fmt.Errorf("trace %q is being written: %w", name, trace.ErrAlreadyExists)
	}
	if _, ok := s.traces[name]; ok && !overwrite {
		return nil, fmt.Errorf("trace %q: %w", name, trace.ErrAlreadyExists)
	}
	s.reserved[name] = true
	return &memSink{store: s, name: name, streams: make(map[string]*bytes.Buffer)}, nil
}

func (s *MemStore) Names(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.traces))
	for name := range s.traces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Put stores a trace directly, bypassing writers. Tests use it to plant
// damaged streams or legacy metadata.
func (s *MemStore) Put(name string, info trace.Info, streams map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[name] = memTrace{info: info.Clone(), streams: streams}
}

// Reserved reports whether a writer holds name.
func (s *MemStore) Reserved(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved[name]
}

type memSink struct {
	store   *MemStore
	name    string
	streams map[string]*bytes.Buffer
	done    bool
}

func (k *memSink) Stream(stream string) (io.Writer, error) {
	if k.done {
		return nil, errors.New("sink already closed")
	}
	buf, ok := k.streams[stream]
	if !ok {
		buf = &bytes.Buffer{}
		k.streams[stream] = buf
	}
	return buf, nil
}

func (k *memSink) Publish(ctx context.Context, info trace.Info) error {
	if k.done {
		return errors.New("sink already closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	streams := make(map[string][]byte, len(k.streams))
	for name, buf := range k.streams {
		streams[name] = bytes.Clone(buf.Bytes())
	}
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	k.store.traces[k.name] = memTrace{info: info.Clone(), streams: streams}
	delete(k.store.reserved, k.name)
	k.done = true
	return nil
}

func (k *memSink) Abort(ctx context.Context) error {
	if k.done {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	delete(k.store.reserved, k.name)
	k.done = true
	return nil
}
