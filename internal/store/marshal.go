package store

import (
	"fmt"
	"time"

	"github.com/roach88/ditl/internal/trace"
)

// marshalInfo converts trace metadata to canonical JSON TEXT for storage.
func marshalInfo(info trace.Info) (string, error) {
	data, err := info.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal info: %w", err)
	}
	return string(data), nil
}

// unmarshalInfo parses stored metadata.
func unmarshalInfo(data string) (trace.Info, error) {
	var info trace.Info
	if err := info.UnmarshalJSON([]byte(data)); err != nil {
		return trace.Info{}, fmt.Errorf("unmarshal info: %w", err)
	}
	return info, nil
}

func unixNow() int64 { return time.Now().Unix() }
