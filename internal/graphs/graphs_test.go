package graphs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ditl/internal/idmap"
	"github.com/roach88/ditl/internal/testutil"
	"github.com/roach88/ditl/internal/trace"
)

func TestNewEdge_Normalizes(t *testing.T) {
	assert.Equal(t, Edge{ID1: 2, ID2: 5}, NewEdge(5, 2))
	assert.Equal(t, "2-5", NewEdge(2, 5).String())
}

func TestEdgeEventCodec(t *testing.T) {
	codec := EdgeEventCodec{}
	ev := EdgeEvent{Type: EdgeDown, Edge: NewEdge(-3, 1000)}

	data, err := codec.Encode(ev)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = codec.Encode(EdgeEvent{Type: 9})
	assert.Error(t, err)

	for _, bad := range [][]byte{nil, {9, 2, 0, 2}, {1, 2, 0}, append(data, 0)} {
		_, err := codec.Decode(bad)
		assert.Error(t, err, "decode %x", bad)
	}
}

func TestGroupEventCodec(t *testing.T) {
	codec := GroupEventCodec{}
	ev := GroupEvent{Type: GroupJoin, GID: 7, Members: []int{1, 4, 9}}

	data, err := codec.Encode(ev)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = codec.Decode([]byte{byte(GroupNew), 1, 14, 5})
	assert.Error(t, err, "member count beyond payload")
	_, err = codec.Decode([]byte{0})
	assert.Error(t, err)
}

func TestGroupCodec_EmptyMembers(t *testing.T) {
	data, err := GroupCodec{}.Encode(Group{GID: 3})
	require.NoError(t, err)
	got, err := GroupCodec{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 3, got.GID)
	assert.Empty(t, got.Members)
}

func TestEdgeUpdater(t *testing.T) {
	u := NewEdgeUpdater()
	u.SetState([]Edge{NewEdge(3, 4), NewEdge(1, 2)})

	require.NoError(t, u.Apply(1, EdgeEvent{Type: EdgeUp, Edge: NewEdge(0, 9)}))
	require.NoError(t, u.Apply(2, EdgeEvent{Type: EdgeUp, Edge: NewEdge(0, 9)}))
	require.NoError(t, u.Apply(3, EdgeEvent{Type: EdgeDown, Edge: NewEdge(3, 4)}))
	require.NoError(t, u.Apply(4, EdgeEvent{Type: EdgeDown, Edge: NewEdge(5, 6)}))
	assert.Error(t, u.Apply(5, EdgeEvent{}))

	assert.Equal(t, []Edge{{0, 9}, {1, 2}}, u.States())
	assert.True(t, u.Has(NewEdge(9, 0)))
}

func TestGroupUpdater(t *testing.T) {
	u := NewGroupUpdater()
	u.SetState([]Group{{GID: 1, Members: []int{1, 2}}})

	require.NoError(t, u.Apply(1, GroupEvent{Type: GroupNew, GID: 2, Members: []int{5}}))
	require.NoError(t, u.Apply(2, GroupEvent{Type: GroupJoin, GID: 2, Members: []int{3, 4}}))
	require.NoError(t, u.Apply(3, GroupEvent{Type: GroupLeave, GID: 1, Members: []int{1}}))
	require.NoError(t, u.Apply(4, GroupEvent{Type: GroupJoin, GID: 8, Members: []int{0}}))
	require.NoError(t, u.Apply(5, GroupEvent{Type: GroupDelete, GID: 8}))

	assert.Equal(t, []Group{
		{GID: 1, Members: []int{2}},
		{GID: 2, Members: []int{3, 4, 5}},
	}, u.States())

	assert.Error(t, u.Apply(6, GroupEvent{Type: GroupNew, GID: 1}))
	assert.Error(t, u.Apply(6, GroupEvent{Type: GroupLeave, GID: 42, Members: []int{1}}))
	assert.Error(t, u.Apply(6, GroupEvent{Type: GroupDelete, GID: 42}))
}

func TestRelabel(t *testing.T) {
	remap := idmap.Remap{1: 10, 4: 0}

	assert.Equal(t, Edge{ID1: 0, ID2: 10}, RelabelEdge(NewEdge(1, 4), remap))
	assert.Equal(t,
		EdgeEvent{Type: EdgeUp, Edge: Edge{ID1: 2, ID2: 10}},
		RelabelEdgeEvent(EdgeEvent{Type: EdgeUp, Edge: NewEdge(1, 2)}, remap))
	assert.Equal(t,
		Group{GID: 1, Members: []int{0, 3, 10}},
		RelabelGroup(Group{GID: 1, Members: []int{1, 3, 4}}, remap))
}

func TestRetain(t *testing.T) {
	keep := map[int]struct{}{1: {}, 2: {}}

	_, ok := RetainEdge(NewEdge(1, 2), keep)
	assert.True(t, ok)
	_, ok = RetainEdgeEvent(EdgeEvent{Type: EdgeUp, Edge: NewEdge(1, 3)}, keep)
	assert.False(t, ok)

	g, ok := RetainGroup(Group{GID: 5, Members: []int{3, 4}}, keep)
	assert.True(t, ok)
	assert.Empty(t, g.Members)

	ev, ok := RetainGroupEvent(GroupEvent{Type: GroupJoin, GID: 5, Members: []int{2, 3}}, keep)
	assert.True(t, ok)
	assert.Equal(t, []int{2}, ev.Members)
	_, ok = RetainGroupEvent(GroupEvent{Type: GroupLeave, GID: 5, Members: []int{3}}, keep)
	assert.False(t, ok)
	_, ok = RetainGroupEvent(GroupEvent{Type: GroupDelete, GID: 5}, keep)
	assert.True(t, ok)
}

func TestPayload_LoadChecksType(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewMemStore()

	w, err := NewGroupTrace(st, "g").OpenWriter(ctx, trace.WithSnapshotInterval(10))
	require.NoError(t, err)
	require.NoError(t, w.SetInitState(0, nil))
	require.NoError(t, w.Close(ctx))

	_, err = LoadEdgeTrace(ctx, st, "g")
	assert.ErrorContains(t, err, `want "edges"`)

	tr, err := LoadGroupTrace(ctx, st, "g")
	require.NoError(t, err)
	assert.Equal(t, GroupsType, tr.Type())
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "up 1-4", EdgeEvent{Type: EdgeUp, Edge: NewEdge(4, 1)}.String())
	assert.Equal(t, "3 [1 2]", Group{GID: 3, Members: []int{1, 2}}.String())
	assert.Equal(t, "join 3 [7]", GroupEvent{Type: GroupJoin, GID: 3, Members: []int{7}}.String())
	assert.Equal(t, "delete 3", GroupEvent{Type: GroupDelete, GID: 3}.String())
	assert.Equal(t, "3 []", Group{GID: 3}.String())
}

func TestLabels(t *testing.T) {
	m, err := idmap.FromExternal(map[string]int{"alice": 1, "bob": 4})
	require.NoError(t, err)

	assert.Equal(t, "up alice-bob", EdgeEvent{Type: EdgeUp, Edge: NewEdge(4, 1)}.Label(m))
	assert.Equal(t, "alice-7", NewEdge(7, 1).Label(m), "unmapped ids print as numbers")
	assert.Equal(t, "3 [alice bob]", Group{GID: 3, Members: []int{1, 4}}.Label(m))
	assert.Equal(t, "leave 1 [bob]", GroupEvent{Type: GroupLeave, GID: 1, Members: []int{4}}.Label(m))
	assert.Equal(t, "delete 4", GroupEvent{Type: GroupDelete, GID: 4}.Label(m), "group ids are not node ids")
}
