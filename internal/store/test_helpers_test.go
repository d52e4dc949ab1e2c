package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/roach88/ditl/internal/trace"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestInfo creates minimal metadata for a published trace.
func createTestInfo(name string) trace.Info {
	var info trace.Info
	info.Set(trace.KeyName, name)
	info.Set(trace.KeyType, "test")
	return info
}

// publishTestTrace writes streams under name and publishes them.
func publishTestTrace(t *testing.T, s *Store, name string, overwrite bool, streams map[string]string) {
	t.Helper()
	ctx := context.Background()
	sink, err := s.Create(ctx, name, overwrite)
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", name, err)
	}
	for stream, data := range streams {
		w, err := sink.Stream(stream)
		if err != nil {
			t.Fatalf("Stream(%q) failed: %v", stream, err)
		}
		if _, err := io.WriteString(w, data); err != nil {
			t.Fatalf("write %q failed: %v", stream, err)
		}
	}
	if err := sink.Publish(ctx, createTestInfo(name)); err != nil {
		t.Fatalf("Publish(%q) failed: %v", name, err)
	}
}

// readStream returns the contents of a published stream.
func readStream(t *testing.T, s *Store, name, stream string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), name, stream)
	if err != nil {
		t.Fatalf("Open(%q, %q) failed: %v", name, stream, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %q failed: %v", stream, err)
	}
	return string(data)
}
