package store

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/roach88/ditl/internal/trace"
)

func TestCreate_PublishMakesTraceVisible(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sink, err := s.Create(ctx, "a", false)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	w, err := sink.Stream(trace.StreamEvents)
	if err != nil {
		t.Fatalf("Stream() failed: %v", err)
	}
	io.WriteString(w, "payload")

	// Nothing is visible before Publish.
	if _, err := s.Info(ctx, "a"); !errors.Is(err, trace.ErrNoSuchTrace) {
		t.Errorf("Info() before publish = %v, want ErrNoSuchTrace", err)
	}

	if err := sink.Publish(ctx, createTestInfo("a")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	info, err := s.Info(ctx, "a")
	if err != nil {
		t.Fatalf("Info() failed: %v", err)
	}
	if got, _ := info.Get(trace.KeyType); got != "test" {
		t.Errorf("type = %q, want %q", got, "test")
	}
	if got := readStream(t, s, "a", trace.StreamEvents); got != "payload" {
		t.Errorf("events = %q, want %q", got, "payload")
	}
}

func TestCreate_ExistingTraceNeedsOverwrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	publishTestTrace(t, s, "a", false, map[string]string{trace.StreamEvents: "v1"})

	if _, err := s.Create(ctx, "a", false); !errors.Is(err, trace.ErrAlreadyExists) {
		t.Fatalf("Create() without overwrite = %v, want ErrAlreadyExists", err)
	}

	publishTestTrace(t, s, "a", true, map[string]string{trace.StreamSnapshots: "v2"})

	if got := readStream(t, s, "a", trace.StreamSnapshots); got != "v2" {
		t.Errorf("snapshots = %q, want %q", got, "v2")
	}
	// Streams of the replaced trace are gone.
	if got := readStream(t, s, "a", trace.StreamEvents); got != "" {
		t.Errorf("events = %q, want empty", got)
	}
}

func TestCreate_ReservationBlocksOtherWriters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sink, err := s.Create(ctx, "a", false)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := s.Create(ctx, "a", true); !errors.Is(err, trace.ErrAlreadyExists) {
		t.Fatalf("second Create() = %v, want ErrAlreadyExists", err)
	}

	if err := sink.Abort(ctx); err != nil {
		t.Fatalf("Abort() failed: %v", err)
	}
	if _, err := s.Info(ctx, "a"); !errors.Is(err, trace.ErrNoSuchTrace) {
		t.Errorf("aborted trace is visible: %v", err)
	}

	again, err := s.Create(ctx, "a", false)
	if err != nil {
		t.Fatalf("Create() after abort failed: %v", err)
	}
	again.Abort(ctx)
}

func TestAbort_CancelledContextReleasesReservation(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	sink, err := s.Create(ctx, "a", false)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	cancel()
	if err := sink.Abort(ctx); err != nil {
		t.Fatalf("Abort() with cancelled context failed: %v", err)
	}

	pending, err := s.Reservations(context.Background())
	if err != nil {
		t.Fatalf("Reservations() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Reservations() = %v, want none", pending)
	}
	again, err := s.Create(context.Background(), "a", false)
	if err != nil {
		t.Fatalf("Create() after cancelled abort failed: %v", err)
	}
	again.Abort(context.Background())
}

func TestCreate_ConcurrentExactlyOneWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, "contested", false)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, trace.ErrAlreadyExists):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestPublish_FailsAfterRelease(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sink, err := s.Create(ctx, "a", false)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := s.Release(ctx, "a"); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if err := sink.Publish(ctx, createTestInfo("a")); err == nil {
		t.Error("Publish() after Release should fail")
	}
}

func TestSink_ClosedAfterPublish(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sink, err := s.Create(ctx, "a", false)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := sink.Publish(ctx, createTestInfo("a")); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}
	if _, err := sink.Stream(trace.StreamEvents); err == nil {
		t.Error("Stream() after Publish should fail")
	}
	if err := sink.Publish(ctx, createTestInfo("a")); err == nil {
		t.Error("second Publish() should fail")
	}
	if err := sink.Abort(ctx); err != nil {
		t.Errorf("Abort() after Publish = %v, want nil", err)
	}
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	publishTestTrace(t, s, "a", false, map[string]string{trace.StreamEvents: "x"})

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Open(ctx, "a", trace.StreamEvents); !errors.Is(err, trace.ErrNoSuchTrace) {
		t.Errorf("Open() after delete = %v, want ErrNoSuchTrace", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, trace.ErrNoSuchTrace) {
		t.Errorf("second Delete() = %v, want ErrNoSuchTrace", err)
	}
}
