package diff

import (
	"github.com/livefir/livepredict/internal/tree"
)

// Diff returns the patches that turn prev into next. It never fails and
// returns an empty sequence for structurally equal trees.
//
// Same-kind, same-tag nodes are compared in place. Attributes diff by
// name. Child lists whose children carry keys are matched by key; other
// lists are matched by position, with a ReplaceChild wherever the kind
// or tag differs.
func Diff(prev, next *tree.Node) []tree.Patch {
	patches := []tree.Patch{}
	diffNode(prev, next, nil, &patches)
	return patches
}

func diffNode(prev, next *tree.Node, path []int, out *[]tree.Patch) {
	if prev == next {
		return
	}
	if prev == nil || next == nil || !sameIdentity(prev, next) {
		*out = append(*out, replaceAt(path, next))
		return
	}

	switch next.Kind {
	case tree.KindText:
		if prev.Text != next.Text {
			*out = append(*out, tree.SetText(path, next.Text))
		}
	case tree.KindElement:
		diffAttrs(prev.Attrs, next.Attrs, path, out)
		diffChildren(prev.Children, next.Children, path, out)
	case tree.KindFragment:
		diffChildren(prev.Children, next.Children, path, out)
	}
}

// sameIdentity reports whether two nodes can be patched in place
func sameIdentity(a, b *tree.Node) bool {
	if a.Kind != b.Kind || a.Key != b.Key {
		return false
	}
	return a.Kind != tree.KindElement || a.Tag == b.Tag
}

func replaceAt(path []int, node *tree.Node) tree.Patch {
	if len(path) == 0 {
		return tree.ReplaceChild(nil, tree.Root, node)
	}
	parent := make([]int, len(path)-1)
	copy(parent, path)
	return tree.ReplaceChild(parent, path[len(path)-1], node)
}

func diffAttrs(prev, next []tree.Attr, path []int, out *[]tree.Patch) {
	oldValues := make(map[string]string, len(prev))
	for _, a := range prev {
		oldValues[a.Name] = a.Value
	}
	newNames := make(map[string]bool, len(next))
	for _, a := range next {
		newNames[a.Name] = true
		if v, ok := oldValues[a.Name]; !ok || v != a.Value {
			*out = append(*out, tree.SetAttribute(path, a.Name, a.Value))
		}
	}
	for _, a := range prev {
		if !newNames[a.Name] {
			*out = append(*out, tree.RemoveAttribute(path, a.Name))
		}
	}
}

func diffChildren(prev, next []*tree.Node, path []int, out *[]tree.Patch) {
	if isKeyed(prev) || isKeyed(next) {
		if oldKeys, ok := childKeys(prev); ok {
			if newKeys, ok := childKeys(next); ok {
				diffKeyed(prev, next, oldKeys, newKeys, path, out)
				return
			}
		}
	}
	diffPositional(prev, next, path, out)
}

func diffPositional(prev, next []*tree.Node, path []int, out *[]tree.Patch) {
	common := min(len(prev), len(next))
	for i := 0; i < common; i++ {
		diffNode(prev[i], next[i], tree.ChildPath(path, i), out)
	}
	for i := common; i < len(next); i++ {
		*out = append(*out, tree.InsertChild(path, i, next[i]))
	}
	for i := len(prev) - 1; i >= common; i-- {
		*out = append(*out, tree.RemoveChild(path, i))
	}
}
