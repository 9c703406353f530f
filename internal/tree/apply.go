package tree

import "fmt"

// PatchError reports a patch that cannot be applied
type PatchError struct {
	Index  int
	Patch  Patch
	Reason string
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patch %d (%s): %s", e.Index, e.Patch.Op, e.Reason)
}

// Apply applies patches in order to a copy of root and returns the copy.
// root itself is never modified.
func Apply(root *Node, patches []Patch) (*Node, error) {
	out := root.Clone()
	for i, p := range patches {
		next, reason := applyOne(out, p)
		if reason != "" {
			return nil, &PatchError{Index: i, Patch: p, Reason: reason}
		}
		out = next
	}
	return out, nil
}

// Check reports whether every patch would apply to root, without
// returning the result
func Check(root *Node, patches []Patch) error {
	_, err := Apply(root, patches)
	return err
}

// applyOne mutates the (already cloned) tree. It returns the possibly new
// root and a non-empty reason on failure.
func applyOne(root *Node, p Patch) (*Node, string) {
	if p.Op == OpReplaceChild && p.Index == Root {
		if p.Node == nil {
			return nil, "nil replacement node"
		}
		if len(p.Path) == 0 {
			return p.Node.Clone(), ""
		}
		parent, err := root.At(p.Path[:len(p.Path)-1])
		if err != nil {
			return nil, err.Error()
		}
		last := p.Path[len(p.Path)-1]
		if last < 0 || last >= len(parent.Children) {
			return nil, fmt.Sprintf("index %d out of range", last)
		}
		parent.Children[last] = p.Node.Clone()
		return root, ""
	}

	target, err := root.At(p.Path)
	if err != nil {
		return nil, err.Error()
	}

	switch p.Op {
	case OpSetText:
		if target.Kind != KindText {
			return nil, fmt.Sprintf("target is %s, not text", target.Kind)
		}
		target.Text = p.Value

	case OpSetAttribute:
		if target.Kind != KindElement {
			return nil, fmt.Sprintf("target is %s, not element", target.Kind)
		}
		for i := range target.Attrs {
			if target.Attrs[i].Name == p.Name {
				target.Attrs[i].Value = p.Value
				return root, ""
			}
		}
		target.Attrs = append(target.Attrs, Attr{Name: p.Name, Value: p.Value})

	case OpRemoveAttribute:
		if target.Kind != KindElement {
			return nil, fmt.Sprintf("target is %s, not element", target.Kind)
		}
		for i := range target.Attrs {
			if target.Attrs[i].Name == p.Name {
				target.Attrs = append(target.Attrs[:i], target.Attrs[i+1:]...)
				return root, ""
			}
		}
		return nil, fmt.Sprintf("attribute %q not present", p.Name)

	case OpInsertChild:
		if target.Kind == KindText {
			return nil, "text nodes have no children"
		}
		if p.Node == nil {
			return nil, "nil child node"
		}
		if p.Index < 0 || p.Index > len(target.Children) {
			return nil, fmt.Sprintf("insert index %d out of range 0..%d", p.Index, len(target.Children))
		}
		target.Children = append(target.Children, nil)
		copy(target.Children[p.Index+1:], target.Children[p.Index:])
		target.Children[p.Index] = p.Node.Clone()

	case OpRemoveChild:
		if p.Index < 0 || p.Index >= len(target.Children) {
			return nil, fmt.Sprintf("remove index %d out of range", p.Index)
		}
		target.Children = append(target.Children[:p.Index], target.Children[p.Index+1:]...)

	case OpReplaceChild:
		if p.Node == nil {
			return nil, "nil replacement node"
		}
		if p.Index < 0 || p.Index >= len(target.Children) {
			return nil, fmt.Sprintf("replace index %d out of range", p.Index)
		}
		target.Children[p.Index] = p.Node.Clone()

	case OpReorderChildren:
		if len(p.Permutation) != len(target.Children) {
			return nil, fmt.Sprintf("permutation length %d does not match %d children",
				len(p.Permutation), len(target.Children))
		}
		seen := make([]bool, len(p.Permutation))
		reordered := make([]*Node, len(p.Permutation))
		for i, from := range p.Permutation {
			if from < 0 || from >= len(seen) || seen[from] {
				return nil, fmt.Sprintf("invalid permutation %v", p.Permutation)
			}
			seen[from] = true
			reordered[i] = target.Children[from]
		}
		target.Children = reordered

	default:
		return nil, fmt.Sprintf("unknown op %d", p.Op)
	}
	return root, ""
}
