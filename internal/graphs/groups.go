package graphs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/ditl/internal/idmap"
)

// GroupsType is the type tag of group traces.
const GroupsType = "groups"

// Group is a set of nodes under a group id. Members are sorted.
type Group struct {
	GID     int
	Members []int
}

func (g Group) String() string { return g.Label(nil) }

// Label formats the group with member ids translated through m. Group ids
// are not node ids and stay numeric.
func (g Group) Label(m *idmap.Map) string {
	return strconv.Itoa(g.GID) + " " + memberLabels(g.Members, m)
}

func memberLabels(members []int, m *idmap.Map) string {
	labels := make([]string, len(members))
	for i, id := range members {
		labels[i] = m.ExternalID(id)
	}
	return "[" + strings.Join(labels, " ") + "]"
}

// GroupEventType is the kind of change to a group.
type GroupEventType byte

const (
	GroupNew GroupEventType = iota + 1
	GroupJoin
	GroupLeave
	GroupDelete
)

func (t GroupEventType) String() string {
	switch t {
	case GroupNew:
		return "new"
	case GroupJoin:
		return "join"
	case GroupLeave:
		return "leave"
	case GroupDelete:
		return "delete"
	default:
		return fmt.Sprintf("GroupEventType(%d)", byte(t))
	}
}

func (t GroupEventType) valid() bool { return t >= GroupNew && t <= GroupDelete }

// GroupEvent changes one group. Members is empty for GroupDelete.
type GroupEvent struct {
	Type    GroupEventType
	GID     int
	Members []int
}

func (ev GroupEvent) String() string { return ev.Label(nil) }

// Label formats the event with member ids translated through m.
func (ev GroupEvent) Label(m *idmap.Map) string {
	if ev.Type == GroupDelete {
		return fmt.Sprintf("%v %d", ev.Type, ev.GID)
	}
	return fmt.Sprintf("%v %d %s", ev.Type, ev.GID, memberLabels(ev.Members, m))
}

// GroupCodec encodes a group as its id and member list.
type GroupCodec struct{}

func (GroupCodec) Encode(g Group) ([]byte, error) {
	return appendInts(appendInts(nil, []int{g.GID}), g.Members), nil
}

func (GroupCodec) Decode(data []byte) (Group, error) {
	d := decoder{data: data}
	gid, members, err := decodeGroup(&d)
	if err != nil {
		return Group{}, fmt.Errorf("decode group: %w", err)
	}
	return Group{GID: gid, Members: members}, nil
}

// GroupEventCodec encodes a type byte followed by the group fields.
type GroupEventCodec struct{}

func (GroupEventCodec) Encode(ev GroupEvent) ([]byte, error) {
	if !ev.Type.valid() {
		return nil, fmt.Errorf("encode group event: invalid type %v", ev.Type)
	}
	buf := appendInts([]byte{byte(ev.Type)}, []int{ev.GID})
	return appendInts(buf, ev.Members), nil
}

func (GroupEventCodec) Decode(data []byte) (GroupEvent, error) {
	d := decoder{data: data}
	b, err := d.byte()
	if err != nil {
		return GroupEvent{}, fmt.Errorf("decode group event: %w", err)
	}
	typ := GroupEventType(b)
	if !typ.valid() {
		return GroupEvent{}, fmt.Errorf("decode group event: invalid type %d", b)
	}
	gid, members, err := decodeGroup(&d)
	if err != nil {
		return GroupEvent{}, fmt.Errorf("decode group event: %w", err)
	}
	return GroupEvent{Type: typ, GID: gid, Members: members}, nil
}

func decodeGroup(d *decoder) (int, []int, error) {
	gid, err := d.ints()
	if err != nil {
		return 0, nil, err
	}
	if len(gid) != 1 {
		return 0, nil, fmt.Errorf("%d group ids", len(gid))
	}
	members, err := d.ints()
	if err != nil {
		return 0, nil, err
	}
	if err := d.done(); err != nil {
		return 0, nil, err
	}
	return gid[0], members, nil
}

// GroupUpdater keeps the current groups.
type GroupUpdater struct {
	groups map[int]map[int]struct{}
}

// NewGroupUpdater returns an updater with no groups.
func NewGroupUpdater() *GroupUpdater {
	return &GroupUpdater{groups: make(map[int]map[int]struct{})}
}

func (u *GroupUpdater) SetState(states []Group) {
	u.groups = make(map[int]map[int]struct{}, len(states))
	for _, g := range states {
		u.groups[g.GID] = memberSet(g.Members)
	}
}

// Apply folds one event. Joining an unknown group creates it; leaving or
// deleting an unknown group is an error.
func (u *GroupUpdater) Apply(t int64, ev GroupEvent) error {
	switch ev.Type {
	case GroupNew:
		if _, ok := u.groups[ev.GID]; ok {
			return fmt.Errorf("group %d created twice at %d", ev.GID, t)
		}
		u.groups[ev.GID] = memberSet(ev.Members)
	case GroupJoin:
		g, ok := u.groups[ev.GID]
		if !ok {
			g = make(map[int]struct{})
			u.groups[ev.GID] = g
		}
		for _, m := range ev.Members {
			g[m] = struct{}{}
		}
	case GroupLeave:
		g, ok := u.groups[ev.GID]
		if !ok {
			return fmt.Errorf("leave from unknown group %d at %d", ev.GID, t)
		}
		for _, m := range ev.Members {
			delete(g, m)
		}
	case GroupDelete:
		if _, ok := u.groups[ev.GID]; !ok {
			return fmt.Errorf("delete of unknown group %d at %d", ev.GID, t)
		}
		delete(u.groups, ev.GID)
	default:
		return fmt.Errorf("apply group event: invalid type %v", ev.Type)
	}
	return nil
}

// States returns the groups ordered by id.
func (u *GroupUpdater) States() []Group {
	out := make([]Group, 0, len(u.groups))
	for gid, members := range u.groups {
		out = append(out, Group{GID: gid, Members: sortedMembers(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GID < out[j].GID })
	return out
}

func memberSet(members []int) map[int]struct{} {
	set := make(map[int]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set
}

func sortedMembers(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

func relabelMembers(members []int, remap idmap.Remap) []int {
	out := make([]int, len(members))
	for i, m := range members {
		out[i] = remap.Apply(m)
	}
	sort.Ints(out)
	return out
}

func retainMembers(members []int, group map[int]struct{}) []int {
	out := make([]int, 0, len(members))
	for _, m := range members {
		if _, ok := group[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// RelabelGroup maps the members through remap. Group ids are not node ids
// and are left alone.
func RelabelGroup(g Group, remap idmap.Remap) Group {
	return Group{GID: g.GID, Members: relabelMembers(g.Members, remap)}
}

// RelabelGroupEvent maps the event's members through remap.
func RelabelGroupEvent(ev GroupEvent, remap idmap.Remap) GroupEvent {
	return GroupEvent{Type: ev.Type, GID: ev.GID, Members: relabelMembers(ev.Members, remap)}
}

// RetainGroup drops members outside group. The group itself is kept even
// when it ends up empty so that later events still refer to it.
func RetainGroup(g Group, group map[int]struct{}) (Group, bool) {
	return Group{GID: g.GID, Members: retainMembers(g.Members, group)}, true
}

// RetainGroupEvent drops members outside group. Joins and leaves left with
// no members are dropped.
func RetainGroupEvent(ev GroupEvent, group map[int]struct{}) (GroupEvent, bool) {
	out := GroupEvent{Type: ev.Type, GID: ev.GID, Members: retainMembers(ev.Members, group)}
	if (ev.Type == GroupJoin || ev.Type == GroupLeave) && len(out.Members) == 0 {
		return out, false
	}
	return out, true
}
