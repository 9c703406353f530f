package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/livefir/livepredict/internal/value"
)

// FromJSONPatch converts an RFC 6902 patch against doc into state
// changes, one per operation (two for move). Operations on array items
// become array-key changes carrying the matching ArrayOp, so state layers
// that publish JSON Patch get the fast path for free. It returns the
// document after all operations.
func FromJSONPatch(subjectID string, doc value.Value, patchJSON []byte) ([]Change, value.Value, error) {
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, doc, fmt.Errorf("decode json patch: %w", err)
	}

	current := doc
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, doc, fmt.Errorf("encode state: %w", err)
	}

	changes := make([]Change, 0, len(patch))
	for i, op := range patch {
		pointer, err := op.Path()
		if err != nil {
			return nil, doc, fmt.Errorf("json patch op %d: %w", i, err)
		}

		nextRaw, err := jsonpatch.Patch{op}.Apply(raw)
		if err != nil {
			return nil, doc, fmt.Errorf("json patch op %d (%s %s): %w", i, op.Kind(), pointer, err)
		}
		next, err := value.Parse(nextRaw)
		if err != nil {
			return nil, doc, fmt.Errorf("json patch op %d: %w", i, err)
		}

		switch op.Kind() {
		case "test":
		case "move":
			from, err := op.From()
			if err != nil {
				return nil, doc, fmt.Errorf("json patch op %d: %w", i, err)
			}
			removed, err := describe(subjectID, "remove", from, current, next)
			if err != nil {
				return nil, doc, fmt.Errorf("json patch op %d: %w", i, err)
			}
			added, err := describe(subjectID, "add", pointer, current, next)
			if err != nil {
				return nil, doc, fmt.Errorf("json patch op %d: %w", i, err)
			}
			changes = append(changes, removed, added)
		default:
			c, err := describe(subjectID, op.Kind(), pointer, current, next)
			if err != nil {
				return nil, doc, fmt.Errorf("json patch op %d: %w", i, err)
			}
			changes = append(changes, c)
		}

		current, raw = next, nextRaw
	}
	return changes, current, nil
}

func describe(subjectID, kind, pointer string, prev, next value.Value) (Change, error) {
	segs := pointerSegments(pointer)
	if len(segs) == 0 {
		return Change{}, fmt.Errorf("%s of the whole document is not a keyed state change", kind)
	}

	parentKey := strings.Join(segs[:len(segs)-1], ".")
	if parent, ok := value.Lookup(prev, parentKey); ok && parentKey != "" && parent.Kind() == value.KindArray {
		op, err := arrayOp(kind, segs[len(segs)-1], parent.Len(), parentKey, next)
		if err != nil {
			return Change{}, err
		}
		after, _ := value.Lookup(next, parentKey)
		return Change{SubjectID: subjectID, StateKey: parentKey, OldValue: parent, NewValue: after, ArrayOp: op}, nil
	}

	key := strings.Join(segs, ".")
	before, _ := value.Lookup(prev, key)
	after, _ := value.Lookup(next, key)
	return Change{SubjectID: subjectID, StateKey: key, OldValue: before, NewValue: after}, nil
}

func arrayOp(kind, last string, n int, arrayKey string, next value.Value) (*ArrayOp, error) {
	idx := n
	if last != "-" {
		i, err := strconv.Atoi(last)
		if err != nil {
			return nil, fmt.Errorf("array index %q: %w", last, err)
		}
		idx = i
	}

	after, _ := value.Lookup(next, arrayKey)
	switch kind {
	case "add", "copy":
		item := after.Index(idx)
		switch {
		case idx == n:
			return Append(item), nil
		case idx == 0:
			return Prepend(item), nil
		default:
			return InsertAt(idx, item), nil
		}
	case "remove":
		return RemoveAt(idx), nil
	case "replace":
		return UpdateAt(idx, after.Index(idx)), nil
	}
	return nil, fmt.Errorf("unsupported json patch op %q on array item", kind)
}

// pointerSegments splits an RFC 6901 pointer and unescapes each token
func pointerSegments(pointer string) []string {
	if pointer == "" || pointer == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}
