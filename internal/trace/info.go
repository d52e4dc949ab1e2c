package trace

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/ditl/internal/canon"
)

// Info is the persisted key/value metadata of a trace.
// The zero value is ready to use.
type Info struct {
	values map[string]string
}

// NewInfo returns Info holding a copy of values.
func NewInfo(values map[string]string) Info {
	info := Info{values: make(map[string]string, len(values))}
	for k, v := range values {
		info.values[k] = v
	}
	return info
}

// Get returns the raw value for key.
func (i Info) Get(key string) (string, bool) {
	v, ok := i.values[key]
	return v, ok
}

// Set stores value under key.
func (i *Info) Set(key, value string) {
	if i.values == nil {
		i.values = make(map[string]string)
	}
	i.values[key] = value
}

// SetInt stores the decimal form of value under key.
func (i *Info) SetInt(key string, value int64) {
	i.Set(key, strconv.FormatInt(value, 10))
}

// Delete removes key.
func (i *Info) Delete(key string) {
	delete(i.values, key)
}

// Keys returns every key in canonical order.
func (i Info) Keys() []string {
	return canon.SortedKeys(i.values)
}

// Len returns the number of keys.
func (i Info) Len() int {
	return len(i.values)
}

// Clone returns an independent copy.
func (i Info) Clone() Info {
	return NewInfo(i.values)
}

// Map returns a copy of the values.
func (i Info) Map() map[string]string {
	return i.Clone().values
}

// MarshalJSON encodes the metadata as canonical JSON.
func (i Info) MarshalJSON() ([]byte, error) {
	if i.values == nil {
		return []byte("{}"), nil
	}
	return canon.MarshalStrings(i.values)
}

// UnmarshalJSON decodes a JSON object of strings.
func (i *Info) UnmarshalJSON(data []byte) error {
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decode trace info: %w", err)
	}
	i.values = values
	if i.values == nil {
		i.values = make(map[string]string)
	}
	return nil
}
