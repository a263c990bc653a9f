// Package matter defines the shared case document that flows through a
// workflow. A matter is schemaless JSON: intake facts, framed issues,
// retrieved authorities, and drafts all accumulate in it as phases run.
package matter

import "strings"

// Matter is the case document. Values are the shapes encoding/json
// produces: map[string]any, []any, string, float64, bool, nil.
type Matter map[string]any

// Clone returns a deep copy. Mutating the copy never touches the
// original, including nested maps and slices.
func (m Matter) Clone() Matter {
	if m == nil {
		return Matter{}
	}
	return Matter(deepCopyMap(m))
}

// Merge deep-copies values into the matter, overwriting existing keys.
// The caller keeps ownership of the argument.
func (m Matter) Merge(values map[string]any) {
	for k, v := range values {
		m[k] = deepCopyValue(v)
	}
}

// Lookup resolves a dotted path ("facts.damages.total") through nested
// maps. It reports false when any segment is missing or the path
// descends through a non-map value.
func (m Matter) Lookup(path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = map[string]any(m)
	for _, seg := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// StringField returns the string at a top-level key, or "" when the key
// is missing or not a string.
func (m Matter) StringField(key string) string {
	s, _ := m[key].(string)
	return s
}

// StringSlice returns the string elements at a top-level key. Non-string
// elements are dropped.
func (m Matter) StringSlice(key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Truthy reports whether a value counts as present for signal checks.
// Nil, empty strings, and empty collections are absent. False and zero
// are present: a recorded zero is still a recorded value.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	default:
		return true
	}
}

// FindNested searches the payload for a key, descending through nested
// maps and through maps inside slices, up to maxDepth levels. The first
// hit in iteration order wins.
func FindNested(payload map[string]any, key string, maxDepth int) (any, bool) {
	if maxDepth <= 0 || payload == nil {
		return nil, false
	}
	if v, ok := payload[key]; ok {
		return v, true
	}
	for _, v := range payload {
		if found, ok := findNestedValue(v, key, maxDepth-1); ok {
			return found, true
		}
	}
	return nil, false
}

func findNestedValue(v any, key string, depth int) (any, bool) {
	if depth <= 0 {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return FindNested(t, key, depth)
	case []any:
		for _, item := range t {
			if found, ok := findNestedValue(item, key, depth); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
