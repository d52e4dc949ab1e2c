package graphs

import (
	"fmt"
	"sort"

	"github.com/roach88/ditl/internal/idmap"
)

// EdgesType is the type tag of edge traces.
const EdgesType = "edges"

// Edge is an undirected link. ID1 < ID2 always holds for edges built by
// NewEdge.
type Edge struct {
	ID1 int
	ID2 int
}

// NewEdge returns the edge between a and b.
func NewEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{ID1: a, ID2: b}
}

func (e Edge) String() string { return e.Label(nil) }

// Label formats the edge with node ids translated through m.
func (e Edge) Label(m *idmap.Map) string {
	return m.ExternalID(e.ID1) + "-" + m.ExternalID(e.ID2)
}

func (e Edge) less(o Edge) bool {
	if e.ID1 != o.ID1 {
		return e.ID1 < o.ID1
	}
	return e.ID2 < o.ID2
}

// EdgeEventType says whether a link appears or disappears.
type EdgeEventType byte

const (
	EdgeUp EdgeEventType = iota + 1
	EdgeDown
)

func (t EdgeEventType) String() string {
	switch t {
	case EdgeUp:
		return "up"
	case EdgeDown:
		return "down"
	default:
		return fmt.Sprintf("EdgeEventType(%d)", byte(t))
	}
}

// EdgeEvent is a change to the edge set.
type EdgeEvent struct {
	Type EdgeEventType
	Edge Edge
}

func (ev EdgeEvent) String() string { return ev.Label(nil) }

// Label formats the event with node ids translated through m.
func (ev EdgeEvent) Label(m *idmap.Map) string { return ev.Type.String() + " " + ev.Edge.Label(m) }

// EdgeCodec encodes edges as two varints.
type EdgeCodec struct{}

func (EdgeCodec) Encode(e Edge) ([]byte, error) {
	return appendInts(nil, []int{e.ID1, e.ID2}), nil
}

func (EdgeCodec) Decode(data []byte) (Edge, error) {
	d := decoder{data: data}
	ids, err := d.ints()
	if err != nil {
		return Edge{}, fmt.Errorf("decode edge: %w", err)
	}
	if len(ids) != 2 {
		return Edge{}, fmt.Errorf("decode edge: %d ids", len(ids))
	}
	if err := d.done(); err != nil {
		return Edge{}, fmt.Errorf("decode edge: %w", err)
	}
	return NewEdge(ids[0], ids[1]), nil
}

// EdgeEventCodec encodes an edge event as a type byte followed by the edge.
type EdgeEventCodec struct{}

func (EdgeEventCodec) Encode(ev EdgeEvent) ([]byte, error) {
	if ev.Type != EdgeUp && ev.Type != EdgeDown {
		return nil, fmt.Errorf("encode edge event: invalid type %v", ev.Type)
	}
	return appendInts([]byte{byte(ev.Type)}, []int{ev.Edge.ID1, ev.Edge.ID2}), nil
}

func (EdgeEventCodec) Decode(data []byte) (EdgeEvent, error) {
	if len(data) == 0 {
		return EdgeEvent{}, fmt.Errorf("decode edge event: %w", errTruncated)
	}
	typ := EdgeEventType(data[0])
	if typ != EdgeUp && typ != EdgeDown {
		return EdgeEvent{}, fmt.Errorf("decode edge event: invalid type %d", data[0])
	}
	e, err := EdgeCodec{}.Decode(data[1:])
	if err != nil {
		return EdgeEvent{}, err
	}
	return EdgeEvent{Type: typ, Edge: e}, nil
}

// EdgeUpdater keeps the set of live edges. Repeated ups and downs of
// absent edges are ignored, since merged traces may report the same link
// from several sources.
type EdgeUpdater struct {
	edges map[Edge]struct{}
}

// NewEdgeUpdater returns an updater with no edges.
func NewEdgeUpdater() *EdgeUpdater {
	return &EdgeUpdater{edges: make(map[Edge]struct{})}
}

func (u *EdgeUpdater) SetState(states []Edge) {
	u.edges = make(map[Edge]struct{}, len(states))
	for _, e := range states {
		u.edges[e] = struct{}{}
	}
}

func (u *EdgeUpdater) Apply(_ int64, ev EdgeEvent) error {
	switch ev.Type {
	case EdgeUp:
		u.edges[ev.Edge] = struct{}{}
	case EdgeDown:
		delete(u.edges, ev.Edge)
	default:
		return fmt.Errorf("apply edge event: invalid type %v", ev.Type)
	}
	return nil
}

// States returns the live edges in (ID1, ID2) order.
func (u *EdgeUpdater) States() []Edge {
	out := make([]Edge, 0, len(u.edges))
	for e := range u.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// Has reports whether e is live.
func (u *EdgeUpdater) Has(e Edge) bool {
	_, ok := u.edges[e]
	return ok
}

// RelabelEdge maps both ends through remap.
func RelabelEdge(e Edge, remap idmap.Remap) Edge {
	return NewEdge(remap.Apply(e.ID1), remap.Apply(e.ID2))
}

// RelabelEdgeEvent maps the event's edge through remap.
func RelabelEdgeEvent(ev EdgeEvent, remap idmap.Remap) EdgeEvent {
	return EdgeEvent{Type: ev.Type, Edge: RelabelEdge(ev.Edge, remap)}
}

// RetainEdge keeps edges whose ends are both in group.
func RetainEdge(e Edge, group map[int]struct{}) (Edge, bool) {
	_, ok1 := group[e.ID1]
	_, ok2 := group[e.ID2]
	return e, ok1 && ok2
}

// RetainEdgeEvent keeps events whose edge is retained.
func RetainEdgeEvent(ev EdgeEvent, group map[int]struct{}) (EdgeEvent, bool) {
	_, ok := RetainEdge(ev.Edge, group)
	return ev, ok
}
