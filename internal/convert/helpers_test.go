package convert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/ditl/internal/graphs"
	"github.com/roach88/ditl/internal/idmap"
	"github.com/roach88/ditl/internal/testutil"
	ditl "github.com/roach88/ditl/internal/trace"
)

type edgeEvent struct {
	t  int64
	ev graphs.EdgeEvent
}

func up(t int64, a, b int) edgeEvent {
	return edgeEvent{t: t, ev: graphs.EdgeEvent{Type: graphs.EdgeUp, Edge: graphs.NewEdge(a, b)}}
}

func down(t int64, a, b int) edgeEvent {
	return edgeEvent{t: t, ev: graphs.EdgeEvent{Type: graphs.EdgeDown, Edge: graphs.NewEdge(a, b)}}
}

type edgeFixture struct {
	name     string
	min, max int64
	ids      map[string]int
	priority int64
	init     []graphs.Edge
	events   []edgeEvent
}

func writeEdgeTrace(t *testing.T, st *testutil.MemStore, fx edgeFixture) *ditl.StatefulTrace[graphs.EdgeEvent, graphs.Edge] {
	t.Helper()
	ctx := context.Background()
	w, err := graphs.NewEdgeTrace(st, fx.name).OpenWriter(ctx, ditl.WithSnapshotInterval(10))
	require.NoError(t, err)
	require.NoError(t, w.SetInitState(fx.min, fx.init))
	for _, e := range fx.events {
		require.NoError(t, w.Queue(e.t, e.ev))
	}
	w.SetIntProperty(ditl.KeyMaxTime, fx.max)
	w.SetProperty(ditl.KeyTimeUnit, "ms")
	if fx.priority != 0 {
		w.SetIntProperty(ditl.KeyDefaultPriority, fx.priority)
	}
	if fx.ids != nil {
		m, err := idmap.FromExternal(fx.ids)
		require.NoError(t, err)
		encoded, err := m.Encode()
		require.NoError(t, err)
		w.SetProperty(ditl.KeyIDMap, encoded)
	}
	require.NoError(t, w.Close(ctx))

	tr, err := graphs.LoadEdgeTrace(ctx, st, fx.name)
	require.NoError(t, err)
	return tr
}

type batch[E any] struct {
	Time   int64
	Events []E
}

// readAll returns the initial state and every batch of a stateful trace.
func readAll[E, S any](t *testing.T, tr *ditl.StatefulTrace[E, S]) ([]S, []batch[E], []S) {
	t.Helper()
	minTime, err := tr.MinTime()
	require.NoError(t, err)
	r, err := tr.OpenReader(context.Background())
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Seek(minTime))
	init := r.ReferenceState()

	var batches []batch[E]
	for r.Next() {
		batches = append(batches, batch[E]{Time: r.Time(), Events: append([]E(nil), r.Batch()...)})
	}
	require.NoError(t, r.Err())
	return init, batches, r.ReferenceState()
}
