package graph

import (
	"encoding/json"
	"fmt"
)

// deepCopy snapshots state S via a JSON round-trip. Stream consumers receive
// copies so a later node mutation can never race a reader.
//
// Works for any JSON-serializable type; unexported fields, channels and
// funcs are not carried.
func deepCopy[S any](state S) (S, error) {
	var zero S
	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("marshal state: %w", err)
	}
	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("unmarshal state: %w", err)
	}
	return copied, nil
}
