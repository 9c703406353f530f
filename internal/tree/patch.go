package tree

import (
	"fmt"
	"slices"
)

// Op identifies the patch variant
type Op uint8

const (
	OpSetText Op = iota
	OpSetAttribute
	OpRemoveAttribute
	OpInsertChild
	OpRemoveChild
	OpReplaceChild
	OpReorderChildren
)

// Root is the Index of a ReplaceChild that replaces the node at Path
// itself rather than one of its children. It is how the root of a tree
// is replaced.
const Root = -1

var opNames = [...]string{
	OpSetText:         "setText",
	OpSetAttribute:    "setAttribute",
	OpRemoveAttribute: "removeAttribute",
	OpInsertChild:     "insertChild",
	OpRemoveChild:     "removeChild",
	OpReplaceChild:    "replaceChild",
	OpReorderChildren: "reorderChildren",
}

// String returns the wire name of the op
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// ParseOp resolves a wire name
func ParseOp(name string) (Op, error) {
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown patch type %q", name)
}

// MarshalText encodes the op by its wire name
func (o Op) MarshalText() ([]byte, error) {
	if int(o) >= len(opNames) {
		return nil, fmt.Errorf("unknown patch op %d", o)
	}
	return []byte(opNames[o]), nil
}

// UnmarshalText decodes a wire name
func (o *Op) UnmarshalText(text []byte) error {
	op, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// IsStructural reports whether the op changes a child list
func (o Op) IsStructural() bool {
	return o == OpInsertChild || o == OpRemoveChild || o == OpReplaceChild || o == OpReorderChildren
}

// Patch is one edit of a tree. Path is the child-index path from the
// root to the node the op targets; for child-list ops that is the parent.
type Patch struct {
	Op          Op
	Path        []int
	Index       int
	Name        string
	Value       string
	Node        *Node
	Permutation []int
}

// SetText replaces the content of the text node at path
func SetText(path []int, value string) Patch {
	return Patch{Op: OpSetText, Path: path, Value: value}
}

// SetAttribute adds or updates an attribute of the element at path
func SetAttribute(path []int, name, value string) Patch {
	return Patch{Op: OpSetAttribute, Path: path, Name: name, Value: value}
}

// RemoveAttribute removes an attribute of the element at path
func RemoveAttribute(path []int, name string) Patch {
	return Patch{Op: OpRemoveAttribute, Path: path, Name: name}
}

// InsertChild inserts node as child index of the node at path
func InsertChild(path []int, index int, node *Node) Patch {
	return Patch{Op: OpInsertChild, Path: path, Index: index, Node: node}
}

// RemoveChild removes child index of the node at path
func RemoveChild(path []int, index int) Patch {
	return Patch{Op: OpRemoveChild, Path: path, Index: index}
}

// ReplaceChild replaces child index of the node at path. Index Root
// replaces the node at path itself.
func ReplaceChild(path []int, index int, node *Node) Patch {
	return Patch{Op: OpReplaceChild, Path: path, Index: index, Node: node}
}

// ReorderChildren permutes the children of the node at path: the child
// at new position i is the child previously at permutation[i].
func ReorderChildren(path []int, permutation []int) Patch {
	return Patch{Op: OpReorderChildren, Path: path, Permutation: permutation}
}

// ChildPath returns path extended by one index, never sharing storage
func ChildPath(path []int, index int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = index
	return out
}

// Target returns the path of the node the patch touches: Path for node
// ops, Path+Index for child ops, and Path for a root replacement.
func (p Patch) Target() []int {
	switch p.Op {
	case OpInsertChild, OpRemoveChild, OpReplaceChild:
		if p.Index == Root {
			return p.Path
		}
		return ChildPath(p.Path, p.Index)
	}
	return p.Path
}

// Equal reports whether two patches are identical
func (p Patch) Equal(o Patch) bool {
	if p.Op != o.Op || p.Index != o.Index || p.Name != o.Name || p.Value != o.Value {
		return false
	}
	if !slices.Equal(p.Path, o.Path) || !slices.Equal(p.Permutation, o.Permutation) {
		return false
	}
	return p.Node.Equal(o.Node)
}

// String renders a compact description for logs
func (p Patch) String() string {
	switch p.Op {
	case OpSetText:
		return fmt.Sprintf("setText %v %q", p.Path, p.Value)
	case OpSetAttribute:
		return fmt.Sprintf("setAttribute %v %s=%q", p.Path, p.Name, p.Value)
	case OpRemoveAttribute:
		return fmt.Sprintf("removeAttribute %v %s", p.Path, p.Name)
	case OpInsertChild:
		return fmt.Sprintf("insertChild %v[%d] %s", p.Path, p.Index, p.Node)
	case OpRemoveChild:
		return fmt.Sprintf("removeChild %v[%d]", p.Path, p.Index)
	case OpReplaceChild:
		return fmt.Sprintf("replaceChild %v[%d] %s", p.Path, p.Index, p.Node)
	case OpReorderChildren:
		return fmt.Sprintf("reorderChildren %v %v", p.Path, p.Permutation)
	}
	return "unknown"
}

// EqualPatches compares two patch sequences element-wise
func EqualPatches(a, b []Patch) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
