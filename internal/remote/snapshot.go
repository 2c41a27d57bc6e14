package remote

import (
	"encoding/json"
	"math"
	"sort"
)

// Snapshot is the value of a node at a point in time. Value is a decoded
// JSON tree: map[string]any, float64, string, bool or nil.
type Snapshot struct {
	Path  string
	Value any
}

func (s Snapshot) Exists() bool { return s.Value != nil }

// Key is the last segment of the snapshot path.
func (s Snapshot) Key() string {
	segs := Split(s.Path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Child returns the snapshot of a direct child, empty if absent.
func (s Snapshot) Child(name string) Snapshot {
	m, _ := s.Value.(map[string]any)
	return Snapshot{Path: Join(s.Path, name), Value: m[name]}
}

// Children returns the direct children in store key order.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	SortKeys(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, Snapshot{Path: Join(s.Path, k), Value: m[k]})
	}
	return out
}

// Float reports the numeric value of the node.
func (s Snapshot) Float() (float64, bool) {
	return toFloat(s.Value)
}

// Int reports the value of the node when it is an integral number.
func (s Snapshot) Int() (int64, bool) {
	f, ok := toFloat(s.Value)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// Str reports the value of the node when it is a string.
func (s Snapshot) Str() (string, bool) {
	v, ok := s.Value.(string)
	return v, ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// LimitToLast keeps the last n children of a map node in key order.
// Non-map values and n <= 0 are returned unchanged.
func LimitToLast(v any, n int) any {
	m, ok := v.(map[string]any)
	if !ok || n <= 0 || len(m) <= n {
		return v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	SortKeys(keys)
	out := make(map[string]any, n)
	for _, k := range keys[len(keys)-n:] {
		out[k] = m[k]
	}
	return out
}

// ApplyQuery applies q to a node value.
func ApplyQuery(v any, q Query) any {
	return LimitToLast(v, q.LimitToLast)
}

// SortKeys orders keys the way the store orders children: keys that parse as
// integers first by numeric value, then every other key lexicographically.
func SortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, aInt := parseIntKey(keys[i])
		b, bInt := parseIntKey(keys[j])
		switch {
		case aInt && bInt:
			if a != b {
				return a < b
			}
			return keys[i] < keys[j]
		case aInt:
			return true
		case bInt:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}
