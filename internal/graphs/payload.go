package graphs

import (
	"context"
	"fmt"

	"github.com/roach88/ditl/internal/idmap"
	"github.com/roach88/ditl/internal/trace"
)

// Payload describes a stateful graph trace type: its tag, codecs, updater,
// and how its node ids are relabeled or filtered.
type Payload[E, S any] struct {
	Type         string
	Events       trace.Codec[E]
	States       trace.Codec[S]
	NewUpdater   func() trace.Updater[E, S]
	relabelEvent func(E, idmap.Remap) E
	relabelState func(S, idmap.Remap) S
	retainEvent  func(E, map[int]struct{}) (E, bool)
	retainState  func(S, map[int]struct{}) (S, bool)
}

// Edges is the payload of edge traces.
var Edges = Payload[EdgeEvent, Edge]{
	Type:         EdgesType,
	Events:       EdgeEventCodec{},
	States:       EdgeCodec{},
	NewUpdater:   func() trace.Updater[EdgeEvent, Edge] { return NewEdgeUpdater() },
	relabelEvent: RelabelEdgeEvent,
	relabelState: RelabelEdge,
	retainEvent:  RetainEdgeEvent,
	retainState:  RetainEdge,
}

// Groups is the payload of group traces.
var Groups = Payload[GroupEvent, Group]{
	Type:         GroupsType,
	Events:       GroupEventCodec{},
	States:       GroupCodec{},
	NewUpdater:   func() trace.Updater[GroupEvent, Group] { return NewGroupUpdater() },
	relabelEvent: RelabelGroupEvent,
	relabelState: RelabelGroup,
	retainEvent:  RetainGroupEvent,
	retainState:  RetainGroup,
}

// New returns a descriptor for a trace of this payload that has not been
// written yet.
func (p Payload[E, S]) New(st trace.Store, name string) *trace.StatefulTrace[E, S] {
	return trace.NewStateful(st, name, p.Type, p.Events, p.States, p.NewUpdater)
}

// Load reads a published trace and checks its type tag.
func (p Payload[E, S]) Load(ctx context.Context, st trace.Store, name string) (*trace.StatefulTrace[E, S], error) {
	tr, err := trace.LoadStateful(ctx, st, name, p.Events, p.States, p.NewUpdater)
	if err != nil {
		return nil, err
	}
	if got := tr.Type(); got != p.Type {
		return nil, fmt.Errorf("trace %q has type %q, want %q", name, got, p.Type)
	}
	return tr, nil
}

func (p Payload[E, S]) RelabelEvent(ev E, remap idmap.Remap) E { return p.relabelEvent(ev, remap) }

func (p Payload[E, S]) RelabelState(s S, remap idmap.Remap) S { return p.relabelState(s, remap) }

func (p Payload[E, S]) RetainEvent(ev E, group map[int]struct{}) (E, bool) {
	return p.retainEvent(ev, group)
}

func (p Payload[E, S]) RetainState(s S, group map[int]struct{}) (S, bool) {
	return p.retainState(s, group)
}

// NewEdgeTrace returns a descriptor for a new edge trace.
func NewEdgeTrace(st trace.Store, name string) *trace.StatefulTrace[EdgeEvent, Edge] {
	return Edges.New(st, name)
}

// LoadEdgeTrace reads a published edge trace.
func LoadEdgeTrace(ctx context.Context, st trace.Store, name string) (*trace.StatefulTrace[EdgeEvent, Edge], error) {
	return Edges.Load(ctx, st, name)
}

// NewGroupTrace returns a descriptor for a new group trace.
func NewGroupTrace(st trace.Store, name string) *trace.StatefulTrace[GroupEvent, Group] {
	return Groups.New(st, name)
}

// LoadGroupTrace reads a published group trace.
func LoadGroupTrace(ctx context.Context, st trace.Store, name string) (*trace.StatefulTrace[GroupEvent, Group], error) {
	return Groups.Load(ctx, st, name)
}
