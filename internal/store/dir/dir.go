// Package dir is a trace.Store on a plain directory.
//
// Each published trace is a subdirectory holding info.json and one file per
// stream. Writers stage into a hidden directory and publish with a rename.
// A reservation is a lock file created with O_EXCL.
package dir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/ditl/internal/trace"
)

const (
	infoFile     = "info.json"
	streamSuffix = ".bin"
	lockPrefix   = ".lock-"
	stagePrefix  = ".stage-"
	trashPrefix  = ".trash-"
)

// Store keeps traces under a root directory.
type Store struct {
	root string
}

var _ trace.Store = (*Store)(nil)

// Open returns a store rooted at root, creating the directory if needed.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) traceDir(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty trace name")
	}
	return filepath.Join(s.root, url.PathEscape(name)), nil
}

func streamFile(stream string) string {
	return url.PathEscape(stream) + streamSuffix
}

// Info returns the metadata of a published trace.
func (s *Store) Info(_ context.Context, name string) (trace.Info, error) {
	dir, err := s.traceDir(name)
	if err != nil {
		return trace.Info{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, infoFile))
	if errors.Is(err, fs.ErrNotExist) {
		return trace.Info{}, fmt.Errorf("trace %q: %w", name, trace.ErrNoSuchTrace)
	}
	if err != nil {
		return trace.Info{}, fmt.Errorf("read info of %q: %w", name, err)
	}
	var info trace.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return trace.Info{}, fmt.Errorf("trace %q: %w", name, err)
	}
	return info, nil
}

// Open returns the stream file of a published trace.
func (s *Store) Open(ctx context.Context, name, stream string) (io.ReadCloser, error) {
	if _, err := s.Info(ctx, name); err != nil {
		return nil, err
	}
	dir, _ := s.traceDir(name)
	f, err := os.Open(filepath.Join(dir, streamFile(stream)))
	if errors.Is(err, fs.ErrNotExist) {
		return io.NopCloser(strings.NewReader("")), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open stream %s of %q: %w", stream, name, err)
	}
	return f, nil
}

// Names lists published traces in ascending byte order.
func (s *Store) Names(context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list store directory: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), infoFile)); err != nil {
			continue
		}
		name, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a published trace. The rename makes the trace invisible
// before its files are removed.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.Info(ctx, name); err != nil {
		return err
	}
	dir, _ := s.traceDir(name)
	trash := filepath.Join(s.root, trashPrefix+uuid.NewString())
	if err := os.Rename(dir, trash); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return os.RemoveAll(trash)
}

// Release removes the lock file on name regardless of its owner. The
// writer that held it fails on Publish.
func (s *Store) Release(_ context.Context, name string) error {
	if _, err := s.traceDir(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, lockPrefix+url.PathEscape(name)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release %q: %w", name, err)
	}
	return nil
}

// Create reserves name by creating its lock file and stages streams in a
// fresh directory.
func (s *Store) Create(_ context.Context, name string, overwrite bool) (trace.Sink, error) {
	dir, err := s.traceDir(name)
	if err != nil {
		return nil, err
	}
	if !overwrite {
		if _, err := os.Stat(filepath.Join(dir, infoFile)); err == nil {
			return nil, fmt.Errorf("trace %q: %w", name, trace.ErrAlreadyExists)
		}
	}
	token := uuid.NewString()
	lock := filepath.Join(s.root, lockPrefix+url.PathEscape(name))
	f, err := os.OpenFile(lock, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("trace %q is being written: %w", name, trace.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("reserve %q: %w", name, err)
	}
	_, err = f.WriteString(token)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(lock)
		return nil, fmt.Errorf("reserve %q: %w", name, err)
	}

	stage := filepath.Join(s.root, stagePrefix+token)
	if err := os.Mkdir(stage, 0o755); err != nil {
		os.Remove(lock)
		return nil, fmt.Errorf("stage %q: %w", name, err)
	}
	return &sink{
		store:     s,
		name:      name,
		dir:       dir,
		lock:      lock,
		stage:     stage,
		token:     token,
		overwrite: overwrite,
		files:     make(map[string]*os.File),
	}, nil
}

type sink struct {
	store     *Store
	name      string
	dir       string
	lock      string
	stage     string
	token     string
	overwrite bool
	files     map[string]*os.File
	done      bool
}

func (k *sink) Stream(stream string) (io.Writer, error) {
	if k.done {
		return nil, fmt.Errorf("trace %q: sink already closed", k.name)
	}
	if f, ok := k.files[stream]; ok {
		return f, nil
	}
	f, err := os.Create(filepath.Join(k.stage, streamFile(stream)))
	if err != nil {
		return nil, fmt.Errorf("create stream %s of %q: %w", stream, k.name, err)
	}
	k.files[stream] = f
	return f, nil
}

// Publish moves the staging directory into place. An existing trace is
// renamed aside first and removed once the new one is visible.
func (k *sink) Publish(_ context.Context, info trace.Info) error {
	if k.done {
		return fmt.Errorf("trace %q: sink already closed", k.name)
	}
	if err := k.closeFiles(); err != nil {
		return err
	}
	owned, err := os.ReadFile(k.lock)
	if err != nil || string(owned) != k.token {
		return fmt.Errorf("trace %q: reservation was released", k.name)
	}
	data, err := info.MarshalJSON()
	if err != nil {
		return fmt.Errorf("publish %q: %w", k.name, err)
	}
	if err := os.WriteFile(filepath.Join(k.stage, infoFile), data, 0o644); err != nil {
		return fmt.Errorf("publish %q: %w", k.name, err)
	}

	var trash string
	if _, err := os.Stat(k.dir); err == nil {
		if !k.overwrite {
			return fmt.Errorf("trace %q: %w", k.name, trace.ErrAlreadyExists)
		}
		trash = filepath.Join(k.store.root, trashPrefix+k.token)
		if err := os.Rename(k.dir, trash); err != nil {
			return fmt.Errorf("replace %q: %w", k.name, err)
		}
	}
	if err := os.Rename(k.stage, k.dir); err != nil {
		if trash != "" {
			os.Rename(trash, k.dir)
		}
		return fmt.Errorf("publish %q: %w", k.name, err)
	}
	k.done = true
	if trash != "" {
		os.RemoveAll(trash)
	}
	return k.release()
}

func (k *sink) Abort(context.Context) error {
	if k.done {
		return nil
	}
	k.done = true
	closeErr := k.closeFiles()
	if err := os.RemoveAll(k.stage); err != nil {
		return errors.Join(closeErr, fmt.Errorf("abort %q: %w", k.name, err))
	}
	return errors.Join(closeErr, k.release())
}

func (k *sink) closeFiles() error {
	var errs []error
	for stream, f := range k.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream %s of %q: %w", stream, k.name, err))
		}
	}
	k.files = map[string]*os.File{}
	return errors.Join(errs...)
}

func (k *sink) release() error {
	owned, err := os.ReadFile(k.lock)
	if err != nil || string(owned) != k.token {
		return nil
	}
	if err := os.Remove(k.lock); err != nil {
		return fmt.Errorf("release %q: %w", k.name, err)
	}
	return nil
}
