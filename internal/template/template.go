// Package template holds the learned template model: parameterized text,
// per-item loop templates, conditional branches and reorder expressions,
// plus their wire encoding.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// Kind is the wire discriminator of a template variant
type Kind string

const (
	KindPatches    Kind = "patches"
	KindLoop       Kind = "loop"
	KindStructural Kind = "structural"
	KindReorder    Kind = "reorder"
)

// Template is one of *PatchSet, *LoopTemplate, *StructuralTemplate or
// *ReorderTemplate
type Template interface {
	Kind() Kind
	Validate() error
	isTemplate()
}

// PatchTemplate generalizes one SetText or attribute patch
type PatchTemplate struct {
	Op    tree.Op       `json:"op"`
	Path  []int         `json:"path"`
	Name  string        `json:"name,omitempty"`
	Value TemplatePatch `json:"value"`
	// Absent lists the condition values for which the attribute is
	// removed rather than set
	Absent []string `json:"absent,omitempty"`
}

// Render materializes the patch against scope
func (pt *PatchTemplate) Render(scope value.Value) (tree.Patch, error) {
	switch pt.Op {
	case tree.OpSetText:
		text, err := pt.Value.Render(scope)
		if err != nil {
			return tree.Patch{}, err
		}
		return tree.SetText(pt.Path, text), nil

	case tree.OpSetAttribute:
		if len(pt.Absent) > 0 && pt.Value.IsConditional() {
			key, err := pt.Value.ConditionKey(scope)
			if err != nil {
				return tree.Patch{}, err
			}
			if slices.Contains(pt.Absent, key) {
				return tree.RemoveAttribute(pt.Path, pt.Name), nil
			}
		}
		v, err := pt.Value.Render(scope)
		if err != nil {
			return tree.Patch{}, err
		}
		return tree.SetAttribute(pt.Path, pt.Name, v), nil
	}
	return tree.Patch{}, fmt.Errorf("%w: %s patch template", ErrUnsupported, pt.Op)
}

func (pt *PatchTemplate) sameTarget(o *PatchTemplate) bool {
	return pt.Op == o.Op && pt.Name == o.Name && slices.Equal(pt.Path, o.Path)
}

// PatchSet generalizes a set of content patches (text and attributes).
// An empty set records a change with no visible effect.
type PatchSet struct {
	Patches []PatchTemplate `json:"patches"`
}

// LoopTemplate describes one item of a rendered list, independent of the
// list's length. Items are children of ParentPath starting at Offset; with
// a Separator, items and separator text nodes alternate.
type LoopTemplate struct {
	ArrayBinding string        `json:"array_binding"`
	ParentPath   []int         `json:"parent_path"`
	Offset       int           `json:"offset"`
	Item         *ItemTemplate `json:"item_template"`
	IndexVar     string        `json:"index_var"`
	Separator    string        `json:"separator,omitempty"`
}

// DefaultIndexVar is the scope name of an item's index
const DefaultIndexVar = "index"

// ItemVar is the scope name of the item itself
const ItemVar = "item"

// Stride is the child distance between consecutive items
func (lt *LoopTemplate) Stride() int {
	if lt.Separator != "" {
		return 2
	}
	return 1
}

// ChildIndex returns the child position of item i
func (lt *LoopTemplate) ChildIndex(i int) int {
	return lt.Offset + lt.Stride()*i
}

// ItemScope builds the scope an item template renders in
func (lt *LoopTemplate) ItemScope(item value.Value, index int) value.Value {
	indexVar := lt.IndexVar
	if indexVar == "" {
		indexVar = DefaultIndexVar
	}
	return value.Object(value.F(ItemVar, item), value.F(indexVar, value.Int(index)))
}

// StructuralTemplate maps each observed value of a condition to the
// subtree rendered for it. A nil branch means nothing is rendered. Index
// is the child position under Path, or tree.Root for the node at Path.
type StructuralTemplate struct {
	ConditionBinding string                `json:"condition_binding"`
	Path             []int                 `json:"path"`
	Index            int                   `json:"index"`
	Branches         map[string]*tree.Node `json:"branches"`
}

// Branch returns the subtree for a condition value
func (st *StructuralTemplate) Branch(key string) (*tree.Node, bool) {
	n, ok := st.Branches[key]
	return n, ok
}

// ReorderTemplate reorders or filters the items of a list by a fixed
// expression. Items occupy the children of ParentPath between Offset
// leading and Trailing trailing static children.
type ReorderTemplate struct {
	ArrayBinding string   `json:"array_binding"`
	ParentPath   []int    `json:"parent_path"`
	Offset       int      `json:"offset"`
	Trailing     int      `json:"trailing"`
	Order        Ordering `json:"ordering_expression"`
}

func (*PatchSet) Kind() Kind           { return KindPatches }
func (*LoopTemplate) Kind() Kind       { return KindLoop }
func (*StructuralTemplate) Kind() Kind { return KindStructural }
func (*ReorderTemplate) Kind() Kind    { return KindReorder }

func (*PatchSet) isTemplate()           {}
func (*LoopTemplate) isTemplate()       {}
func (*StructuralTemplate) isTemplate() {}
func (*ReorderTemplate) isTemplate()    {}

// Equal compares two templates by their wire encoding
func Equal(a, b Template) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// Size estimates the memory a template holds, by its encoded length
func Size(t Template) int64 {
	data, err := json.Marshal(t)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// Merge combines two templates learned for the same state keys.
// Conditional literals, structural branches and the conditional parts of
// loop item templates merge additively. It returns false when the
// templates cannot be combined and next should replace prev.
func Merge(prev, next Template) (Template, bool) {
	switch p := prev.(type) {
	case *PatchSet:
		n, ok := next.(*PatchSet)
		if !ok {
			return next, false
		}
		return mergePatchSets(p, n)

	case *StructuralTemplate:
		n, ok := next.(*StructuralTemplate)
		if !ok || p.ConditionBinding != n.ConditionBinding || p.Index != n.Index || !slices.Equal(p.Path, n.Path) {
			return next, false
		}
		merged := &StructuralTemplate{
			ConditionBinding: p.ConditionBinding,
			Path:             p.Path,
			Index:            p.Index,
			Branches:         make(map[string]*tree.Node, len(p.Branches)+len(n.Branches)),
		}
		for k, v := range p.Branches {
			merged.Branches[k] = v
		}
		for k, v := range n.Branches {
			if old, ok := merged.Branches[k]; ok && !old.Equal(v) {
				return next, false
			}
			merged.Branches[k] = v
		}
		return merged, true

	case *LoopTemplate:
		n, ok := next.(*LoopTemplate)
		if !ok || p.ArrayBinding != n.ArrayBinding || p.Offset != n.Offset ||
			p.Separator != n.Separator || !slices.Equal(p.ParentPath, n.ParentPath) {
			return next, false
		}
		merged := *n
		switch {
		case n.Item == nil:
			merged.Item = p.Item
		case p.Item != nil:
			item, ok := mergeItems(p.Item, n.Item)
			if !ok {
				return next, false
			}
			merged.Item = item
		}
		return &merged, true
	}
	return next, Equal(prev, next)
}

func mergePatchSets(p, n *PatchSet) (Template, bool) {
	if len(p.Patches) != len(n.Patches) {
		return n, false
	}
	merged := &PatchSet{Patches: make([]PatchTemplate, len(p.Patches))}
	for i := range p.Patches {
		a, b := &p.Patches[i], &n.Patches[i]
		if !a.sameTarget(b) {
			return n, false
		}
		out := *a
		switch {
		case a.Value.IsConditional():
			v, ok := a.Value.merge(b.Value)
			if !ok {
				return n, false
			}
			out.Value = v
			out.Absent = unionStrings(a.Absent, b.Absent)
		default:
			pa, pb := PatchSet{Patches: []PatchTemplate{*a}}, PatchSet{Patches: []PatchTemplate{*b}}
			if !Equal(&pa, &pb) {
				return n, false
			}
		}
		merged.Patches[i] = out
	}
	return merged, true
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
