package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// BindValue converts a resolved row value into a form every shipped backend
// can bind directly:
//   - time.Time  -> RFC3339Nano UTC string (stable round-trip on all backends)
//   - json.Number -> int64 when integral, float64 otherwise
//   - maps/slices -> their JSON encoding as a string (json columns)
//   - everything else passes through
//
// Backends must not assume a particular underlying type for values; this
// helper keeps bind behavior consistent across backends.
func BindValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("storage: bind number %q: %w", t.String(), err)
		}
		return f, nil
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, []byte:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("storage: bind value %T: %w", v, err)
		}
		return string(b), nil
	}
}

// BindRow applies BindValue over the named columns, producing positional args.
func BindRow(columns []string, row Row) ([]any, error) {
	out := make([]any, 0, len(columns))
	for _, c := range columns {
		v, err := BindValue(row[c])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		out = append(out, v)
	}
	return out, nil
}
