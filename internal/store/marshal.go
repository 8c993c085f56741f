package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/laurels/internal/canon"
)

// marshalMetadata converts award metadata to canonical JSON TEXT.
func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := canon.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// unmarshalMetadata parses metadata TEXT. Integers are decoded through
// json.Number so they come back as int64 rather than float64.
func unmarshalMetadata(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return normalizeNumbers(m).(map[string]any), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		return x.String()
	case map[string]any:
		for k, inner := range x {
			x[k] = normalizeNumbers(inner)
		}
		return x
	case []any:
		for i, inner := range x {
			x[i] = normalizeNumbers(inner)
		}
		return x
	default:
		return v
	}
}
