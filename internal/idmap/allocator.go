package idmap

import (
	"fmt"
)

// Remap records internal ids rewritten by Merge, keyed by the id found in
// the merged map.
type Remap map[int]int

// Apply returns the rewritten id for iid, or iid itself if it was kept.
func (r Remap) Apply(iid int) int {
	if to, ok := r[iid]; ok {
		return to
	}
	return iid
}

// PropertySetter receives serialized trace metadata.
// Trace writers satisfy it.
type PropertySetter interface {
	SetProperty(key, value string)
}

// Allocator hands out internal ids for external ids.
type Allocator struct {
	byExternal map[string]int
	byInternal map[int]string
	next       int

	// merged holds every map folded in by Merge with the remap issued for it.
	merged []mergedMap
}

type mergedMap struct {
	src   *Map
	remap Remap
}

// NewAllocator returns an empty allocator whose first id is floor.
func NewAllocator(floor int) *Allocator {
	return &Allocator{
		byExternal: make(map[string]int),
		byInternal: make(map[int]string),
		next:       floor,
	}
}

// Filter returns an allocator seeded with the entries of m whose internal
// id is in group. Retained entries keep their internal ids; new ids are
// allocated above the largest retained one.
func Filter(m *Map, group map[int]struct{}) *Allocator {
	a := NewAllocator(0)
	if m == nil {
		return a
	}
	for iid, eid := range m.byInternal {
		if _, ok := group[iid]; ok {
			a.bind(eid, iid)
		}
	}
	return a
}

// InternalID returns the id bound to eid, allocating the next free id if
// eid is new.
func (a *Allocator) InternalID(eid string) int {
	if iid, ok := a.byExternal[eid]; ok {
		return iid
	}
	iid := a.next
	a.bind(eid, iid)
	return iid
}

// Merge folds m into the allocator and returns the ids of m that could not
// be kept verbatim.
//
// An external id already bound to another internal id takes the incoming
// one, unless that id is held by a different external id. Taking the
// incoming id moves the external id away from the ids earlier maps used for
// it; the remaps returned by earlier calls are updated in place to follow.
func (a *Allocator) Merge(m *Map) Remap {
	remap := Remap{}
	if m == nil {
		a.merged = append(a.merged, mergedMap{remap: remap})
		return remap
	}
	// Claim every verbatim id before resolving conflicts so a conflicting
	// entry can never be moved onto an id another entry of m still needs.
	var conflicts []int
	for _, iid := range m.InternalIDs() {
		eid := m.byInternal[iid]
		existing, known := a.byExternal[eid]
		_, taken := a.byInternal[iid]
		switch {
		case known && existing == iid:
		case taken:
			conflicts = append(conflicts, iid)
		case known:
			a.rebind(eid, existing, iid)
		default:
			a.bind(eid, iid)
		}
	}
	for _, iid := range conflicts {
		eid := m.byInternal[iid]
		if _, taken := a.byInternal[iid]; taken {
			remap[iid] = a.InternalID(eid)
			continue
		}
		// Freed by a rebind above.
		if existing, known := a.byExternal[eid]; known {
			a.rebind(eid, existing, iid)
		} else {
			a.bind(eid, iid)
		}
	}
	a.merged = append(a.merged, mergedMap{src: m, remap: remap})
	return remap
}

// rebind moves eid from one internal id to another and redirects the ids
// earlier maps used for eid.
func (a *Allocator) rebind(eid string, from, to int) {
	delete(a.byInternal, from)
	a.bind(eid, to)
	for _, mm := range a.merged {
		if mm.src == nil {
			continue
		}
		orig, ok := mm.src.byExternal[eid]
		if !ok {
			continue
		}
		if orig == to {
			delete(mm.remap, orig)
		} else {
			mm.remap[orig] = to
		}
	}
}

// Map returns an immutable copy of the current bindings.
func (a *Allocator) Map() *Map {
	m := &Map{
		byInternal: make(map[int]string, len(a.byInternal)),
		byExternal: make(map[string]int, len(a.byExternal)),
	}
	for eid, iid := range a.byExternal {
		m.byExternal[eid] = iid
		m.byInternal[iid] = eid
	}
	return m
}

// Len returns the number of bound ids.
func (a *Allocator) Len() int {
	return len(a.byExternal)
}

// WriteTraceInfo stores the current bindings under InfoKey.
func (a *Allocator) WriteTraceInfo(w PropertySetter) error {
	encoded, err := a.Map().Encode()
	if err != nil {
		return fmt.Errorf("write id map: %w", err)
	}
	w.SetProperty(InfoKey, encoded)
	return nil
}

// bind records eid <-> iid and keeps next above every bound id.
func (a *Allocator) bind(eid string, iid int) {
	a.byExternal[eid] = iid
	a.byInternal[iid] = eid
	if iid >= a.next {
		a.next = iid + 1
	}
}
