package graphs

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/ditl/internal/idmap"
	"github.com/roach88/ditl/internal/trace"
)

// WindowedEdgesType is the type tag of windowed edge traces.
const WindowedEdgesType = "windowed edges"

// KeyWindow holds the span, in tics, of a windowed edge trace.
const KeyWindow = "window"

// Transition is one up or down of an edge.
type Transition struct {
	Time int64
	Up   bool
}

func (tr Transition) String() string {
	if tr.Up {
		return fmt.Sprintf("up@%d", tr.Time)
	}
	return fmt.Sprintf("down@%d", tr.Time)
}

// WindowedEdge is an edge with its transitions around the current time t:
// Prev holds those in [t-span, t) and Next those in [t, t+span), both in
// time order. Edges with no transition in either range are not tracked.
type WindowedEdge struct {
	Edge Edge
	Prev []Transition
	Next []Transition
}

func (we WindowedEdge) String() string { return we.Label(nil) }

// Label formats the windowed edge with node ids translated through m.
func (we WindowedEdge) Label(m *idmap.Map) string {
	return we.Edge.Label(m) + " prev " + transitionList(we.Prev) + " next " + transitionList(we.Next)
}

func transitionList(ts []Transition) string {
	parts := make([]string, len(ts))
	for i, tr := range ts {
		parts[i] = tr.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// WindowedEdgeEventType is how a transition moves through the window.
type WindowedEdgeEventType byte

const (
	// WindowAdd: the transition enters the look-ahead.
	WindowAdd WindowedEdgeEventType = iota + 1
	// WindowShift: the transition moves from the look-ahead to the look-behind.
	WindowShift
	// WindowDrop: the transition leaves the look-behind.
	WindowDrop
)

func (t WindowedEdgeEventType) String() string {
	switch t {
	case WindowAdd:
		return "add"
	case WindowShift:
		return "shift"
	case WindowDrop:
		return "drop"
	default:
		return fmt.Sprintf("WindowedEdgeEventType(%d)", byte(t))
	}
}

func (t WindowedEdgeEventType) valid() bool { return t >= WindowAdd && t <= WindowDrop }

// WindowedEdgeEvent moves one transition of an edge through the window.
type WindowedEdgeEvent struct {
	Type       WindowedEdgeEventType
	Edge       Edge
	Transition Transition
}

func (ev WindowedEdgeEvent) String() string { return ev.Label(nil) }

// Label formats the event with node ids translated through m.
func (ev WindowedEdgeEvent) Label(m *idmap.Map) string {
	return ev.Type.String() + " " + ev.Edge.Label(m) + " " + ev.Transition.String()
}

// WindowedEdgeCodec encodes the edge followed by the Prev and Next lists.
type WindowedEdgeCodec struct{}

func (WindowedEdgeCodec) Encode(we WindowedEdge) ([]byte, error) {
	buf := appendInts(nil, []int{we.Edge.ID1, we.Edge.ID2})
	buf = appendTransitions(buf, we.Prev)
	return appendTransitions(buf, we.Next), nil
}

func (WindowedEdgeCodec) Decode(data []byte) (WindowedEdge, error) {
	d := decoder{data: data}
	ids, err := d.ints()
	if err != nil {
		return WindowedEdge{}, fmt.Errorf("decode windowed edge: %w", err)
	}
	if len(ids) != 2 {
		return WindowedEdge{}, fmt.Errorf("decode windowed edge: %d ids", len(ids))
	}
	we := WindowedEdge{Edge: NewEdge(ids[0], ids[1])}
	if we.Prev, err = d.transitions(); err != nil {
		return WindowedEdge{}, fmt.Errorf("decode windowed edge: %w", err)
	}
	if we.Next, err = d.transitions(); err != nil {
		return WindowedEdge{}, fmt.Errorf("decode windowed edge: %w", err)
	}
	if err := d.done(); err != nil {
		return WindowedEdge{}, fmt.Errorf("decode windowed edge: %w", err)
	}
	return we, nil
}

// WindowedEdgeEventCodec encodes a type byte, the edge and the transition.
type WindowedEdgeEventCodec struct{}

func (WindowedEdgeEventCodec) Encode(ev WindowedEdgeEvent) ([]byte, error) {
	if !ev.Type.valid() {
		return nil, fmt.Errorf("encode windowed edge event: invalid type %v", ev.Type)
	}
	buf := appendInts([]byte{byte(ev.Type)}, []int{ev.Edge.ID1, ev.Edge.ID2})
	return appendTransition(buf, ev.Transition), nil
}

func (WindowedEdgeEventCodec) Decode(data []byte) (WindowedEdgeEvent, error) {
	if len(data) == 0 {
		return WindowedEdgeEvent{}, fmt.Errorf("decode windowed edge event: %w", errTruncated)
	}
	ev := WindowedEdgeEvent{Type: WindowedEdgeEventType(data[0])}
	if !ev.Type.valid() {
		return WindowedEdgeEvent{}, fmt.Errorf("decode windowed edge event: invalid type %d", data[0])
	}
	d := decoder{data: data, pos: 1}
	ids, err := d.ints()
	if err != nil {
		return WindowedEdgeEvent{}, fmt.Errorf("decode windowed edge event: %w", err)
	}
	if len(ids) != 2 {
		return WindowedEdgeEvent{}, fmt.Errorf("decode windowed edge event: %d ids", len(ids))
	}
	ev.Edge = NewEdge(ids[0], ids[1])
	if ev.Transition, err = d.transition(); err != nil {
		return WindowedEdgeEvent{}, fmt.Errorf("decode windowed edge event: %w", err)
	}
	if err := d.done(); err != nil {
		return WindowedEdgeEvent{}, fmt.Errorf("decode windowed edge event: %w", err)
	}
	return ev, nil
}

func appendTransition(buf []byte, tr Transition) []byte {
	buf = binary.AppendVarint(buf, tr.Time)
	if tr.Up {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendTransitions(buf []byte, ts []Transition) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(ts)))
	for _, tr := range ts {
		buf = appendTransition(buf, tr)
	}
	return buf
}

func (d *decoder) transition() (Transition, error) {
	t, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		return Transition{}, errTruncated
	}
	d.pos += n
	up, err := d.byte()
	if err != nil {
		return Transition{}, err
	}
	if up > 1 {
		return Transition{}, fmt.Errorf("invalid transition flag %d", up)
	}
	return Transition{Time: t, Up: up == 1}, nil
}

func (d *decoder) transitions() ([]Transition, error) {
	count, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return nil, errTruncated
	}
	d.pos += n
	// Each transition takes at least two bytes.
	if count > uint64(len(d.data)-d.pos)/2 {
		return nil, fmt.Errorf("transition count %d exceeds payload", count)
	}
	out := make([]Transition, 0, count)
	for i := uint64(0); i < count; i++ {
		tr, err := d.transition()
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// WindowedEdgeUpdater keeps the windowed edges. Shifting or dropping a
// transition that is not there only adds what is missing.
type WindowedEdgeUpdater struct {
	edges map[Edge]*WindowedEdge
}

// NewWindowedEdgeUpdater returns an updater with no edges.
func NewWindowedEdgeUpdater() *WindowedEdgeUpdater {
	return &WindowedEdgeUpdater{edges: make(map[Edge]*WindowedEdge)}
}

func (u *WindowedEdgeUpdater) SetState(states []WindowedEdge) {
	u.edges = make(map[Edge]*WindowedEdge, len(states))
	for _, we := range states {
		c := cloneWindowed(we)
		u.edges[we.Edge] = &c
	}
}

func (u *WindowedEdgeUpdater) Apply(_ int64, ev WindowedEdgeEvent) error {
	if !ev.Type.valid() {
		return fmt.Errorf("apply windowed edge event: invalid type %v", ev.Type)
	}
	we, ok := u.edges[ev.Edge]
	if !ok {
		we = &WindowedEdge{Edge: ev.Edge}
		u.edges[ev.Edge] = we
	}
	switch ev.Type {
	case WindowAdd:
		we.Next = insertTransition(we.Next, ev.Transition)
	case WindowShift:
		we.Next = removeTransition(we.Next, ev.Transition)
		we.Prev = insertTransition(we.Prev, ev.Transition)
	case WindowDrop:
		we.Prev = removeTransition(we.Prev, ev.Transition)
	}
	if len(we.Prev) == 0 && len(we.Next) == 0 {
		delete(u.edges, ev.Edge)
	}
	return nil
}

// States returns copies of the windowed edges in (ID1, ID2) order.
func (u *WindowedEdgeUpdater) States() []WindowedEdge {
	out := make([]WindowedEdge, 0, len(u.edges))
	for _, we := range u.edges {
		out = append(out, cloneWindowed(*we))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Edge.less(out[j].Edge) })
	return out
}

func cloneWindowed(we WindowedEdge) WindowedEdge {
	return WindowedEdge{
		Edge: we.Edge,
		Prev: append([]Transition(nil), we.Prev...),
		Next: append([]Transition(nil), we.Next...),
	}
}

// insertTransition adds tr after every transition at or before its time.
func insertTransition(ts []Transition, tr Transition) []Transition {
	i := sort.Search(len(ts), func(i int) bool { return ts[i].Time > tr.Time })
	ts = append(ts, Transition{})
	copy(ts[i+1:], ts[i:])
	ts[i] = tr
	return ts
}

func removeTransition(ts []Transition, tr Transition) []Transition {
	for i, cur := range ts {
		if cur == tr {
			return append(ts[:i], ts[i+1:]...)
		}
	}
	return ts
}

// RelabelWindowedEdge maps the edge through remap.
func RelabelWindowedEdge(we WindowedEdge, remap idmap.Remap) WindowedEdge {
	out := cloneWindowed(we)
	out.Edge = RelabelEdge(we.Edge, remap)
	return out
}

// RelabelWindowedEdgeEvent maps the event's edge through remap.
func RelabelWindowedEdgeEvent(ev WindowedEdgeEvent, remap idmap.Remap) WindowedEdgeEvent {
	ev.Edge = RelabelEdge(ev.Edge, remap)
	return ev
}

// RetainWindowedEdge keeps windowed edges whose ends are both in group.
func RetainWindowedEdge(we WindowedEdge, group map[int]struct{}) (WindowedEdge, bool) {
	_, ok := RetainEdge(we.Edge, group)
	return we, ok
}

// RetainWindowedEdgeEvent keeps events whose edge is retained.
func RetainWindowedEdgeEvent(ev WindowedEdgeEvent, group map[int]struct{}) (WindowedEdgeEvent, bool) {
	_, ok := RetainEdge(ev.Edge, group)
	return ev, ok
}

// WindowedEdges is the payload of windowed edge traces.
var WindowedEdges = Payload[WindowedEdgeEvent, WindowedEdge]{
	Type:         WindowedEdgesType,
	Events:       WindowedEdgeEventCodec{},
	States:       WindowedEdgeCodec{},
	NewUpdater:   func() trace.Updater[WindowedEdgeEvent, WindowedEdge] { return NewWindowedEdgeUpdater() },
	relabelEvent: RelabelWindowedEdgeEvent,
	relabelState: RelabelWindowedEdge,
	retainEvent:  RetainWindowedEdgeEvent,
	retainState:  RetainWindowedEdge,
}

// NewWindowedEdgeTrace returns a descriptor for a new windowed edge trace.
func NewWindowedEdgeTrace(st trace.Store, name string) *trace.StatefulTrace[WindowedEdgeEvent, WindowedEdge] {
	return WindowedEdges.New(st, name)
}

// LoadWindowedEdgeTrace reads a published windowed edge trace.
func LoadWindowedEdgeTrace(ctx context.Context, st trace.Store, name string) (*trace.StatefulTrace[WindowedEdgeEvent, WindowedEdge], error) {
	return WindowedEdges.Load(ctx, st, name)
}
