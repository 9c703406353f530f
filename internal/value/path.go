package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Pair is one primitive leaf of a flattened value
type Pair struct {
	Path  string
	Value Value
}

// Join appends a segment to a dot path
func Join(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

// Segments splits a dot path. The empty path has no segments.
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Root returns the first segment of a dot path
func Root(path string) string {
	head, _, _ := strings.Cut(path, ".")
	return head
}

// Lookup resolves a dot path such as "user.address.city" or "todos.0.text"
func Lookup(v Value, path string) (Value, bool) {
	cur := v
	for _, seg := range Segments(path) {
		switch cur.kind {
		case KindObject:
			next, ok := cur.Get(seg)
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindArray:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(cur.items) {
				return Value{}, false
			}
			cur = cur.items[i]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Set returns a copy of v with the value at path replaced by nv.
// Missing object members are created; array indices must exist.
func Set(v Value, path string, nv Value) (Value, error) {
	return set(v, Segments(path), nv, "")
}

func set(v Value, segs []string, nv Value, walked string) (Value, error) {
	if len(segs) == 0 {
		return nv, nil
	}
	seg, rest := segs[0], segs[1:]
	here := Join(walked, seg)

	if v.kind == KindArray {
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(v.items) {
			return Value{}, fmt.Errorf("path %q: index out of range", here)
		}
		child, err := set(v.items[i], rest, nv, here)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, len(v.items))
		copy(items, v.items)
		items[i] = child
		return Value{kind: KindArray, items: items}, nil
	}

	if v.kind != KindObject && v.kind != KindNull {
		return Value{}, fmt.Errorf("path %q: cannot descend into %s", here, v.kind)
	}
	existing, _ := v.Get(seg)
	child, err := set(existing, rest, nv, here)
	if err != nil {
		return Value{}, err
	}
	return v.With(seg, child), nil
}

// Flatten walks v depth-first and returns every primitive leaf with its
// dot path, in object field order. Empty containers produce no pairs.
func Flatten(v Value) []Pair {
	var pairs []Pair
	flatten(v, "", &pairs)
	return pairs
}

func flatten(v Value, prefix string, out *[]Pair) {
	switch v.kind {
	case KindObject:
		for _, f := range v.fields {
			flatten(f.Value, Join(prefix, f.Key), out)
		}
	case KindArray:
		for i, item := range v.items {
			flatten(item, Join(prefix, strconv.Itoa(i)), out)
		}
	default:
		*out = append(*out, Pair{Path: prefix, Value: v})
	}
}
