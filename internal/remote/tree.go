package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Split breaks a slash-separated path into segments, dropping empty ones.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	segs := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// Join builds a clean path from parts, each of which may contain slashes.
func Join(parts ...string) string {
	var segs []string
	for _, p := range parts {
		segs = append(segs, Split(p)...)
	}
	return strings.Join(segs, "/")
}

func parseIntKey(k string) (int64, bool) {
	n, err := strconv.ParseInt(k, 10, 64)
	return n, err == nil
}

// Normalize converts an arbitrary Go value into the store's tree form by a
// JSON round trip. Empty maps collapse to nil, as the store does not keep
// empty nodes.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode node value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode node value: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, c := range m {
		if c = prune(c); c == nil {
			delete(m, k)
		} else {
			m[k] = c
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Lookup returns the value at segs below root, nil if absent.
func Lookup(root any, segs []string) any {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

// Put returns a copy of root with v stored at segs. Maps along the path are
// copied, everything else is shared, so earlier roots stay valid. A nil v
// deletes the node and prunes parents left empty.
func Put(root any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	m, _ := root.(map[string]any)
	out := make(map[string]any, len(m)+1)
	for k, c := range m {
		out[k] = c
	}
	child := Put(out[segs[0]], segs[1:], v)
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clone deep-copies map nodes.
func Clone(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, c := range m {
		out[k] = Clone(c)
	}
	return out
}

// Flatten lists the leaves of v keyed by their full path under base.
func Flatten(base string, v any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, Join(base), v)
	return out
}

func flattenInto(out map[string]any, path string, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		if v != nil {
			out[path] = v
		}
		return
	}
	for k, c := range m {
		flattenInto(out, Join(path, k), c)
	}
}

// Unflatten rebuilds the node at base from leaves keyed by full path.
// Leaves outside base are ignored.
func Unflatten(base string, leaves map[string]any) any {
	baseSegs := Split(base)
	var root any
	for path, v := range leaves {
		segs := Split(path)
		if len(segs) < len(baseSegs) || !hasPrefix(segs, baseSegs) {
			continue
		}
		root = Put(root, segs[len(baseSegs):], v)
	}
	return root
}

func hasPrefix(segs, prefix []string) bool {
	for i, p := range prefix {
		if segs[i] != p {
			return false
		}
	}
	return true
}

// Related reports whether a change at one path can affect a listener on the
// other: one of them is an ancestor of, or equal to, the other.
func Related(a, b string) bool {
	as, bs := Split(a), Split(b)
	if len(as) > len(bs) {
		as, bs = bs, as
	}
	return hasPrefix(bs, as)
}
