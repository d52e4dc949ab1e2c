package trace

import (
	"math"
	"strconv"

	"github.com/roach88/ditl/internal/idmap"
)

// Infinity is the time sentinel. Halved so that adding or subtracting two
// infinities cannot overflow.
const Infinity int64 = math.MaxInt64 / 2

// Persisted metadata keys. These strings are an interchange contract.
const (
	KeyName                      = "name"
	KeyType                      = "type"
	KeyTimeUnit                  = "time unit"
	KeyDescription               = "description"
	KeyMinUpdateInterval         = "min update interval"
	KeyMaxUpdateInterval         = "max update interval"
	KeySnapshotMinUpdateInterval = "snapshots min update interval"
	KeySnapshotMaxUpdateInterval = "snapshots max update interval"
	KeyLastSnapshotTime          = "last snapshot time"
	KeyMinTime                   = "min time"
	KeyMaxTime                   = "max time"
	KeyDefaultPriority           = "default priority"
	KeyIDMap                     = idmap.InfoKey

	// keyTicsPerSecond is the legacy spelling of the time unit. Only
	// upgradeLegacyInfo reads it.
	keyTicsPerSecond = "tics per second"
)

// Priority orders streams that share a timestamp. Lower values are applied
// first; it is a tie-break, not a measure of importance.
type Priority uint32

const (
	PriorityHighest Priority = 0
	PriorityDefault Priority = 100
	PriorityLowest  Priority = math.MaxInt32
)

// Stream names inside a trace.
const (
	StreamEvents    = "events"
	StreamSnapshots = "snapshots"
)

// DefaultTimeUnit is the time unit of a trace created without one.
const DefaultTimeUnit = "ms"

// unitTics maps time unit names to tics per second.
var unitTics = map[string]int64{
	"s":  1,
	"ms": 1_000,
	"us": 1_000_000,
	"ns": 1_000_000_000,
}

// TicsPerSecond returns the number of tics per second for unit.
func TicsPerSecond(unit string) (int64, bool) {
	tps, ok := unitTics[unit]
	return tps, ok
}

// UnitForTics returns the unit name for a tics-per-second value.
func UnitForTics(tps int64) (string, bool) {
	for unit, v := range unitTics {
		if v == tps {
			return unit, true
		}
	}
	return "", false
}

// upgradeLegacyInfo rewrites deprecated metadata so that the rest of the
// package only deals with canonical keys:
//   - "tics per second" becomes "time unit" when the latter is absent
//   - stateful traces without "last snapshot time" get Infinity
//
// Unconvertible legacy values are left alone; the typed accessors report
// them as malformed.
func upgradeLegacyInfo(info Info, kind Kind) Info {
	if _, ok := info.Get(KeyTimeUnit); !ok {
		if raw, ok := info.Get(keyTicsPerSecond); ok {
			if tps, err := strconv.ParseInt(raw, 10, 64); err == nil {
				if unit, ok := UnitForTics(tps); ok {
					info.Set(KeyTimeUnit, unit)
					info.Delete(keyTicsPerSecond)
				}
			}
		}
	}
	if kind == Stateful {
		if _, ok := info.Get(KeyLastSnapshotTime); !ok {
			info.SetInt(KeyLastSnapshotTime, Infinity)
		}
	}
	return info
}
