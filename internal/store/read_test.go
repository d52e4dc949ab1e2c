package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/roach88/ditl/internal/testutil"
	"github.com/roach88/ditl/internal/trace"
)

func TestInfo_NoSuchTrace(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Info(context.Background(), "missing")
	if !errors.Is(err, trace.ErrNoSuchTrace) {
		t.Errorf("Info() = %v, want ErrNoSuchTrace", err)
	}
}

func TestOpen_MissingStreamReadsEmpty(t *testing.T) {
	s := createTestStore(t)
	publishTestTrace(t, s, "a", false, map[string]string{trace.StreamEvents: "x"})

	if got := readStream(t, s, "a", trace.StreamSnapshots); got != "" {
		t.Errorf("snapshots = %q, want empty", got)
	}
	if _, err := s.Open(context.Background(), "b", trace.StreamEvents); !errors.Is(err, trace.ErrNoSuchTrace) {
		t.Errorf("Open() of missing trace = %v, want ErrNoSuchTrace", err)
	}
}

func TestNames_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	names, err := s.Names(ctx)
	if err != nil {
		t.Fatalf("Names() failed: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Errorf("Names() on empty store = %#v, want empty slice", names)
	}

	for _, name := range []string{"b", "B", "a"} {
		publishTestTrace(t, s, name, false, nil)
	}
	names, err = s.Names(ctx)
	if err != nil {
		t.Fatalf("Names() failed: %v", err)
	}
	if want := []string{"B", "a", "b"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}
}

func TestReservations(t *testing.T) {
	clock := testutil.NewClock(100)
	var tokens testutil.Tokens
	s := createTestStore(t, WithClock(clock.Now), WithTokens(tokens.Next))
	ctx := context.Background()

	if _, err := s.Create(ctx, "late", false); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	early, err := s.Create(ctx, "early", false)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	s.db.Exec(`UPDATE reservations SET reserved_at = 1 WHERE name = 'early'`)

	got, err := s.Reservations(ctx)
	if err != nil {
		t.Fatalf("Reservations() failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "early" || got[1].Name != "late" {
		t.Fatalf("Reservations() = %+v, want early then late", got)
	}
	if got[0].Token != "token-2" || got[1].ReservedAt != 101 {
		t.Errorf("Reservations() = %+v, want early=token-2 and late reserved at 101", got)
	}

	if err := early.Publish(ctx, createTestInfo("early")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if err := s.Release(ctx, "late"); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	got, err = s.Reservations(ctx)
	if err != nil {
		t.Fatalf("Reservations() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Reservations() = %+v, want none", got)
	}
}

func TestStore_TraceRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tr := trace.New[string](s, "words", "words", stringCodec{})
	w, err := tr.OpenWriter(ctx)
	if err != nil {
		t.Fatalf("OpenWriter() failed: %v", err)
	}
	for i, word := range []string{"alpha", "beta", "gamma"} {
		if err := w.Queue(int64(i*10), word); err != nil {
			t.Fatalf("Queue() failed: %v", err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	loaded, err := trace.Load[string](ctx, s, "words", stringCodec{})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	maxTime, err := loaded.MaxTime()
	if err != nil || maxTime != 20 {
		t.Errorf("MaxTime() = %d, %v; want 20", maxTime, err)
	}
	r, err := loaded.OpenReader(ctx)
	if err != nil {
		t.Fatalf("OpenReader() failed: %v", err)
	}
	defer r.Close()
	var got []string
	for r.Next() {
		got = append(got, r.Batch()...)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("reader failed: %v", err)
	}
	if want := []string{"alpha", "beta", "gamma"}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

type stringCodec struct{}

func (stringCodec) Encode(s string) ([]byte, error)    { return []byte(s), nil }
func (stringCodec) Decode(data []byte) (string, error) { return string(data), nil }
