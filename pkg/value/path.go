package value

import (
	"strconv"
	"strings"
)

// Resolve walks a dotted field-path (e.g. "performance.cpu_percent" or
// "containers.0.name") through data, returning the resolved Value and
// whether it was found. Null counts as absent, so exists/not-exists
// conditions treat an explicit null like a missing field.
func Resolve(data map[string]Value, path string) (Value, bool) {
	if path == "" {
		return Null(), false
	}
	segments := strings.Split(path, ".")

	current := Map(data)
	for _, seg := range segments {
		next, ok := step(current, seg)
		if !ok {
			return Null(), false
		}
		current = next
	}
	if current.IsNull() {
		return Null(), false
	}
	return current, true
}

// step descends one path segment into current, which must be a map
// (segment is a key) or a list (segment is a numeric index).
func step(current Value, segment string) (Value, bool) {
	switch current.kind {
	case KindMap:
		v, ok := current.m[segment]
		if !ok {
			return Null(), false
		}
		return v, true
	case KindList:
		idx, err := strconv.Atoi(segment)
		if err != nil || idx < 0 || idx >= len(current.list) {
			return Null(), false
		}
		return current.list[idx], true
	default:
		return Null(), false
	}
}
