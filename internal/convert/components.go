package convert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/ditl/internal/graphs"
	ditl "github.com/roach88/ditl/internal/trace"
)

// ConnectedComponents turns an edge trace into a group trace of its
// connected components. Nodes without edges belong to no group.
//
// A component keeps its group id while its membership is unchanged. Any
// change deletes the old group and creates a new one with a fresh id.
type ConnectedComponents struct {
	dest *ditl.StatefulTrace[graphs.GroupEvent, graphs.Group]
	src  *ditl.StatefulTrace[graphs.EdgeEvent, graphs.Edge]
	opts []ditl.WriterOption
}

// NewConnectedComponents returns a conversion of src into dest.
func NewConnectedComponents(dest *ditl.StatefulTrace[graphs.GroupEvent, graphs.Group], src *ditl.StatefulTrace[graphs.EdgeEvent, graphs.Edge], opts ...ditl.WriterOption) *ConnectedComponents {
	return &ConnectedComponents{dest: dest, src: src, opts: opts}
}

func (c *ConnectedComponents) Convert(ctx context.Context) error {
	return run(ctx, "connected-components", c.dest.Name(), []string{c.src.Name()}, c.convert)
}

func (c *ConnectedComponents) convert(ctx context.Context) error {
	domain, err := traceBounds(c.src.Trace)
	if err != nil {
		return err
	}
	r, err := c.src.OpenReader(ctx)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Seek(domain.min); err != nil {
		return err
	}

	w, err := c.dest.OpenWriter(ctx, sourceSnapshotOption(c.src, c.opts)...)
	if err != nil {
		return err
	}
	tracker := newComponentTracker()
	_, created := tracker.update(components(r.ReferenceState()))
	var init []graphs.Group
	for _, ev := range created {
		init = append(init, graphs.Group{GID: ev.GID, Members: ev.Members})
	}
	if err := w.SetInitState(domain.min, init); err != nil {
		_ = w.Abort(ctx)
		return err
	}

	for r.Next() {
		if err := ctx.Err(); err != nil {
			_ = w.Abort(ctx)
			return err
		}
		if r.Time() > domain.max {
			break
		}
		deleted, created := tracker.update(components(r.ReferenceState()))
		for _, ev := range append(deleted, created...) {
			if err := w.Queue(r.Time(), ev); err != nil {
				_ = w.Abort(ctx)
				return err
			}
		}
	}
	if err := r.Err(); err != nil {
		_ = w.Abort(ctx)
		return err
	}

	copyTimeUnit(w, []*ditl.Trace[graphs.EdgeEvent]{c.src.Trace})
	setBounds(w, domain)
	if err := copyIDMap(w, c.src.Trace); err != nil {
		_ = w.Abort(ctx)
		return err
	}
	w.SetProperty(ditl.KeyDescription, fmt.Sprintf("connected components of %s", c.src.Name()))
	return w.Close(ctx)
}

// componentTracker assigns group ids to components across updates.
type componentTracker struct {
	live    map[string]int
	nextGID int
}

func newComponentTracker() *componentTracker {
	return &componentTracker{live: make(map[string]int)}
}

// update replaces the live components and returns the group events that
// get there: deletions by group id, then creations in member order.
func (t *componentTracker) update(comps [][]int) (deleted, created []graphs.GroupEvent) {
	next := make(map[string][]int, len(comps))
	for _, members := range comps {
		next[componentKey(members)] = members
	}

	for key, gid := range t.live {
		if _, ok := next[key]; !ok {
			deleted = append(deleted, graphs.GroupEvent{Type: graphs.GroupDelete, GID: gid})
			delete(t.live, key)
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].GID < deleted[j].GID })

	for _, members := range comps {
		key := componentKey(members)
		if _, ok := t.live[key]; ok {
			continue
		}
		gid := t.nextGID
		t.nextGID++
		t.live[key] = gid
		created = append(created, graphs.GroupEvent{Type: graphs.GroupNew, GID: gid, Members: members})
	}
	return deleted, created
}

func componentKey(members []int) string {
	var b strings.Builder
	for i, m := range members {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", m)
	}
	return b.String()
}

// components returns the connected components of edges, each sorted, in
// order of their smallest member.
func components(edges []graphs.Edge) [][]int {
	uf := newUnionFind()
	for _, e := range edges {
		uf.union(e.ID1, e.ID2)
	}
	byRoot := make(map[int][]int)
	for node := range uf.parent {
		root := uf.find(node)
		byRoot[root] = append(byRoot[root], node)
	}
	out := make([][]int, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Ints(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

type unionFind struct {
	parent map[int]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int]int)}
}

func (u *unionFind) find(x int) int {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
