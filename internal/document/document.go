// Package document holds versioned configuration documents: a dynamic
// key/value tree with a top-level integer "version" field, persisted as JSON.
package document

import (
	"encoding/json"
	"fmt"
	"math"
)

// VersionKey is the top-level field carrying the document schema version.
const VersionKey = "version"

// Document is a dynamically shaped JSON object. Steps add, rename, retype and
// remove fields on it before the engine persists it.
type Document map[string]any

// Version returns the stored schema version. A missing field is version 0.
func (d Document) Version() (int, error) {
	raw, ok := d[VersionKey]
	if !ok || raw == nil {
		return 0, nil
	}
	return toInt(raw)
}

// SetVersion sets the schema version field.
func (d Document) SetVersion(v int) {
	d[VersionKey] = v
}

// Get returns the value stored under key.
func (d Document) Get(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (d Document) Set(key string, value any) {
	d[key] = value
}

// Has reports whether key is present, even with a null value.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Delete removes key.
func (d Document) Delete(key string) {
	delete(d, key)
}

// String returns the string stored under key. Null and missing are "", false.
func (d Document) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// Bytes decodes a field holding a byte sequence. JSON carries bytes as an
// array of integers 0..255.
func (d Document) Bytes(key string) ([]byte, bool) {
	switch v := d[key].(type) {
	case []byte:
		return append([]byte(nil), v...), true
	case []any:
		out := make([]byte, len(v))
		for i, e := range v {
			n, err := toInt(e)
			if err != nil || n < 0 || n > math.MaxUint8 {
				return nil, false
			}
			out[i] = byte(n)
		}
		return out, true
	case []int:
		out := make([]byte, len(v))
		for i, n := range v {
			if n < 0 || n > math.MaxUint8 {
				return nil, false
			}
			out[i] = byte(n)
		}
		return out, true
	default:
		return nil, false
	}
}

// SetBytes stores b in the array-of-integers encoding.
func (d Document) SetBytes(key string, b []byte) {
	arr := make([]any, len(b))
	for i, c := range b {
		arr[i] = int(c)
	}
	d[key] = arr
}

// Clone returns a deep copy, so a failed run never leaks partial edits into
// the caller's document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case Document:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("integer %d out of range", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", n.String())
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("unexpected %T, want integer", v)
	}
}
