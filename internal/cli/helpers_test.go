package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ditl/internal/graphs"
	"github.com/roach88/ditl/internal/idmap"
	"github.com/roach88/ditl/internal/store"
	"github.com/roach88/ditl/internal/trace"
)

// seedStore creates a SQLite store holding two edge traces over [0, 10]:
// "a" where alice and bob part at 9, and "b" where carol and dave meet at 3.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	writeEdges(t, st, "a", map[string]int{"alice": 0, "bob": 1},
		[]graphs.Edge{graphs.NewEdge(0, 1)},
		9, graphs.EdgeEvent{Type: graphs.EdgeDown, Edge: graphs.NewEdge(0, 1)})
	writeEdges(t, st, "b", map[string]int{"carol": 0, "dave": 1},
		nil,
		3, graphs.EdgeEvent{Type: graphs.EdgeUp, Edge: graphs.NewEdge(0, 1)})
	return path
}

func writeEdges(t *testing.T, st trace.Store, name string, ids map[string]int, init []graphs.Edge, at int64, ev graphs.EdgeEvent) {
	t.Helper()
	ctx := context.Background()
	w, err := graphs.NewEdgeTrace(st, name).OpenWriter(ctx, trace.WithTimeUnit("s"))
	require.NoError(t, err)
	require.NoError(t, w.SetInitState(0, init))
	require.NoError(t, w.Queue(at, ev))
	w.SetIntProperty(trace.KeyMaxTime, 10)
	m, err := idmap.FromExternal(ids)
	require.NoError(t, err)
	encoded, err := m.Encode()
	require.NoError(t, err)
	w.SetProperty(trace.KeyIDMap, encoded)
	require.NoError(t, w.Close(ctx))
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// ditl runs the CLI against the store at path.
func ditl(t *testing.T, path string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), append([]string{"--store", path}, args...), &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// mustDitl runs the CLI and fails the test on a non-zero exit.
func mustDitl(t *testing.T, path string, args ...string) string {
	t.Helper()
	res := ditl(t, path, args...)
	require.Equal(t, ExitSuccess, res.code, "ditl %v: %s", args, res.stderr)
	return res.stdout
}
