package idmap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/ditl/internal/canon"
)

// InfoKey is the trace metadata key holding the serialized map.
const InfoKey = "id map"

// Map is an immutable bijection between external and internal ids.
type Map struct {
	byInternal map[int]string
	byExternal map[string]int
}

// Parse decodes a JSON object of external id to internal id.
// Returns an error if the document is malformed or two external ids share
// an internal id.
func Parse(s string) (*Map, error) {
	var raw map[string]int
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("parse id map: %w", err)
	}
	return FromExternal(raw)
}

// FromExternal builds a Map from external id to internal id pairs.
func FromExternal(pairs map[string]int) (*Map, error) {
	m := &Map{
		byInternal: make(map[int]string, len(pairs)),
		byExternal: make(map[string]int, len(pairs)),
	}
	for eid, iid := range pairs {
		if prev, dup := m.byInternal[iid]; dup {
			return nil, fmt.Errorf("id map: internal id %d bound to both %q and %q", iid, prev, eid)
		}
		m.byInternal[iid] = eid
		m.byExternal[eid] = iid
	}
	return m, nil
}

// ExternalID returns the external id for iid, or its decimal form if the
// id is not mapped.
func (m *Map) ExternalID(iid int) string {
	if m != nil {
		if eid, ok := m.byInternal[iid]; ok {
			return eid
		}
	}
	return strconv.Itoa(iid)
}

// InternalID returns the internal id bound to eid.
func (m *Map) InternalID(eid string) (int, bool) {
	if m == nil {
		return 0, false
	}
	iid, ok := m.byExternal[eid]
	return iid, ok
}

// Len returns the number of mapped ids.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byInternal)
}

// InternalIDs returns the mapped internal ids in ascending order.
func (m *Map) InternalIDs() []int {
	if m == nil {
		return nil
	}
	ids := make([]int, 0, len(m.byInternal))
	for iid := range m.byInternal {
		ids = append(ids, iid)
	}
	sort.Ints(ids)
	return ids
}

// Encode serializes the map as canonical JSON.
func (m *Map) Encode() (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := canon.MarshalInts(m.byExternal)
	if err != nil {
		return "", fmt.Errorf("encode id map: %w", err)
	}
	return string(data), nil
}
