package trace

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu       sync.Mutex
	traces   map[string]*memTrace
	reserved map[string]bool
}

type memTrace struct {
	info    Info
	streams map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{traces: make(map[string]*memTrace), reserved: make(map[string]bool)}
}

func (s *memStore) Info(_ context.Context, name string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.traces[name]
	if !ok {
		return Info{}, fmt.Errorf("%s: %w", name, ErrNoSuchTrace)
	}
	return tr.info.Clone(), nil
}

func (s *memStore) Open(_ context.Context, name, stream string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.traces[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNoSuchTrace)
	}
	return io.NopCloser(bytes.NewReader(tr.streams[stream])), nil
}

func (s *memStore) Create(_ context.Context, name string, overwrite bool) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved[name] {
		return nil, fmt.Errorf("%s is being written: %w", name, ErrAlreadyExists)
	}
	if _, ok := s.traces[name]; ok && !overwrite {
		return nil, fmt.Errorf("%s: %w", name, ErrAlreadyExists)
	}
	s.reserved[name] = true
	return &memSink{store: s, name: name, streams: make(map[string]*bytes.Buffer)}, nil
}

func (s *memStore) Names(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.traces))
	for name := range s.traces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// put stores raw streams directly, bypassing the writer.
func (s *memStore) put(name string, info Info, streams map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[name] = &memTrace{info: info, streams: streams}
}

func (s *memStore) stream(name, stream string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traces[name].streams[stream]
}

type memSink struct {
	store   *memStore
	name    string
	streams map[string]*bytes.Buffer
	done    bool
}

func (k *memSink) Stream(stream string) (io.Writer, error) {
	if k.done {
		return nil, errors.New("sink closed")
	}
	buf, ok := k.streams[stream]
	if !ok {
		buf = &bytes.Buffer{}
		k.streams[stream] = buf
	}
	return buf, nil
}

func (k *memSink) Publish(_ context.Context, info Info) error {
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	streams := make(map[string][]byte, len(k.streams))
	for name, buf := range k.streams {
		streams[name] = buf.Bytes()
	}
	k.store.traces[k.name] = &memTrace{info: info, streams: streams}
	delete(k.store.reserved, k.name)
	k.done = true
	return nil
}

func (k *memSink) Abort(context.Context) error {
	k.store.mu.Lock()
	defer k.store.mu.Unlock()
	delete(k.store.reserved, k.name)
	k.done = true
	return nil
}

// intCodec encodes int64 payloads as varints.
type intCodec struct{}

func (intCodec) Encode(v int64) ([]byte, error) { return binary.AppendVarint(nil, v), nil }

func (intCodec) Decode(data []byte) (int64, error) {
	v, n := binary.Varint(data)
	if n <= 0 || n != len(data) {
		return 0, fmt.Errorf("bad varint %x", data)
	}
	return v, nil
}

// setUpdater keeps a set of ints. Event +x adds x, -x removes x.
type setUpdater struct {
	members map[int64]bool
}

func newSetUpdater() Updater[int64, int64] {
	return &setUpdater{members: make(map[int64]bool)}
}

func (u *setUpdater) SetState(states []int64) {
	u.members = make(map[int64]bool, len(states))
	for _, s := range states {
		u.members[s] = true
	}
}

func (u *setUpdater) Apply(_ int64, event int64) error {
	switch {
	case event > 0:
		u.members[event] = true
	case event < 0:
		if !u.members[-event] {
			return fmt.Errorf("remove of absent member %d", -event)
		}
		delete(u.members, -event)
	default:
		return errors.New("zero event")
	}
	return nil
}

func (u *setUpdater) States() []int64 {
	out := make([]int64, 0, len(u.members))
	for m := range u.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type batch struct {
	Time  int64
	Items []int64
}

func collect(t *testing.T, r *Reader[int64]) []batch {
	t.Helper()
	var out []batch
	for r.Next() {
		out = append(out, batch{Time: r.Time(), Items: append([]int64(nil), r.Batch()...)})
	}
	if err := r.Err(); err != nil {
		t.Fatalf("reader failed: %v", err)
	}
	return out
}

func writeTrace(t *testing.T, st Store, name string, window int64, events [][2]int64) *Trace[int64] {
	t.Helper()
	ctx := context.Background()
	tr := New[int64](st, name, "ints", intCodec{})
	w, err := tr.OpenWriter(ctx, WithWindow(window))
	if err != nil {
		t.Fatalf("OpenWriter() failed: %v", err)
	}
	for _, ev := range events {
		if err := w.Queue(ev[0], ev[1]); err != nil {
			t.Fatalf("Queue(%d) failed: %v", ev[0], err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	loaded, err := Load[int64](ctx, st, name, intCodec{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	return loaded
}

func bytesReader(data []byte) io.Reader { return bytes.NewReader(data) }
