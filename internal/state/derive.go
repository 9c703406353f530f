package state

import "github.com/livefir/livepredict/internal/value"

// identityFields are the object fields consulted, in order, for an array
// item's identity
var identityFields = []string{"id", "key", "_id", "uuid"}

// ItemKey returns the identity of an array item, or "" for items without
// an identity field
func ItemKey(item value.Value) string {
	for _, name := range identityFields {
		if v, ok := item.Get(name); ok && v.IsPrimitive() && !v.IsNull() {
			return v.String()
		}
	}
	return ""
}

func sameItem(a, b value.Value) bool {
	if ka, kb := ItemKey(a), ItemKey(b); ka != "" || kb != "" {
		return ka == kb && a.Equal(b)
	}
	return a.Equal(b)
}

// DeriveArrayOp recovers the single-item mutation turning prev into
// next, or returns false when the arrays differ by more than one item
func DeriveArrayOp(prev, next value.Value) (*ArrayOp, bool) {
	if !isArrayish(prev) || !isArrayish(next) {
		return nil, false
	}
	a, b := prev.Items(), next.Items()

	switch len(b) - len(a) {
	case 1:
		at := firstDifference(a, b)
		if !equalSkipping(b, a, at) {
			return nil, false
		}
		switch {
		case at == len(a):
			return Append(b[at]), true
		case at == 0:
			return Prepend(b[at]), true
		default:
			return InsertAt(at, b[at]), true
		}

	case -1:
		at := firstDifference(a, b)
		if !equalSkipping(a, b, at) {
			return nil, false
		}
		return RemoveAt(at), true

	case 0:
		at := -1
		for i := range a {
			if sameItem(a[i], b[i]) {
				continue
			}
			if at >= 0 {
				return nil, false
			}
			at = i
		}
		if at < 0 {
			return nil, false
		}
		return UpdateAt(at, b[at]), true
	}
	return nil, false
}

func isArrayish(v value.Value) bool {
	return v.IsNull() || v.Kind() == value.KindArray
}

func firstDifference(a, b []value.Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if !sameItem(a[i], b[i]) {
			return i
		}
	}
	return n
}

// equalSkipping reports whether long with index skip removed equals short
func equalSkipping(long, short []value.Value, skip int) bool {
	for i, j := 0, 0; i < len(long); i++ {
		if i == skip {
			continue
		}
		if !sameItem(long[i], short[j]) {
			return false
		}
		j++
	}
	return true
}
