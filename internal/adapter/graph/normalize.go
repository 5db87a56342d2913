package graph

import (
	"encoding/json"
	"fmt"
)

// normalize converts any of the Graph-family native response shapes —
// `{value: [...]}`, `{data: [...]}`, or a bare array — into a flat row
// slice. Nothing outside this package sees a native shape.
func normalize(body []byte) ([]map[string]any, error) {
	var wrapped struct {
		Value []map[string]any `json:"value"`
		Data  []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if wrapped.Value != nil {
			return wrapped.Value, nil
		}
		if wrapped.Data != nil {
			return wrapped.Data, nil
		}
	}

	var bare []map[string]any
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, nil
	}

	// A single object response becomes a one-row result.
	var single map[string]any
	if err := json.Unmarshal(body, &single); err == nil && len(single) > 0 {
		delete(single, "@odata.context")
		return []map[string]any{single}, nil
	}

	return nil, fmt.Errorf("unrecognized response shape")
}
