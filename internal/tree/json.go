package tree

import (
	"encoding/json"
	"fmt"
)

// Wire form of a node:
//
//	{"type":"element","tag":"li","key":"t1","attrs":[["class","done"]],"children":[...]}
//	{"type":"text","text":"Buy milk"}
//	{"type":"fragment","children":[...]}
type wireNode struct {
	Type     string      `json:"type"`
	Tag      string      `json:"tag,omitempty"`
	Key      string      `json:"key,omitempty"`
	Attrs    [][2]string `json:"attrs,omitempty"`
	Children []*Node     `json:"children,omitempty"`
	Text     *string     `json:"text,omitempty"`
}

// MarshalJSON encodes the node with a type discriminator
func (n *Node) MarshalJSON() ([]byte, error) {
	w := wireNode{Type: n.Kind.String()}
	switch n.Kind {
	case KindText:
		text := n.Text
		w.Text = &text
	case KindElement:
		w.Tag = n.Tag
		w.Key = n.Key
		for _, a := range n.Attrs {
			w.Attrs = append(w.Attrs, [2]string{a.Name, a.Value})
		}
		w.Children = n.Children
	case KindFragment:
		w.Key = n.Key
		w.Children = n.Children
	default:
		return nil, fmt.Errorf("unknown node kind %d", n.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a node from its wire form
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = Node{}
	switch w.Type {
	case "text":
		n.Kind = KindText
		if w.Text != nil {
			n.Text = *w.Text
		}
	case "element":
		if w.Tag == "" {
			return fmt.Errorf("element node without tag")
		}
		n.Kind = KindElement
		n.Tag = w.Tag
		n.Key = w.Key
		for _, a := range w.Attrs {
			n.Attrs = append(n.Attrs, Attr{Name: a[0], Value: a[1]})
		}
		n.Children = w.Children
	case "fragment":
		n.Kind = KindFragment
		n.Key = w.Key
		n.Children = w.Children
	default:
		return fmt.Errorf("unknown node type %q", w.Type)
	}
	for i, child := range n.Children {
		if child == nil {
			return fmt.Errorf("%s node has null child %d", w.Type, i)
		}
	}
	return nil
}

type wirePatch struct {
	Type        string  `json:"type"`
	Path        []int   `json:"path"`
	Index       *int    `json:"index,omitempty"`
	Name        string  `json:"name,omitempty"`
	Value       *string `json:"value,omitempty"`
	Node        *Node   `json:"node,omitempty"`
	Permutation []int   `json:"permutation,omitempty"`
}

// MarshalJSON encodes the patch with a type discriminator and only the
// fields of its variant
func (p Patch) MarshalJSON() ([]byte, error) {
	w := wirePatch{Type: p.Op.String(), Path: p.Path}
	if w.Path == nil {
		w.Path = []int{}
	}
	switch p.Op {
	case OpSetText:
		w.Value = &p.Value
	case OpSetAttribute:
		w.Name = p.Name
		w.Value = &p.Value
	case OpRemoveAttribute:
		w.Name = p.Name
	case OpInsertChild, OpReplaceChild:
		w.Index = &p.Index
		w.Node = p.Node
	case OpRemoveChild:
		w.Index = &p.Index
	case OpReorderChildren:
		w.Permutation = p.Permutation
		if w.Permutation == nil {
			w.Permutation = []int{}
		}
	default:
		return nil, fmt.Errorf("unknown patch op %d", p.Op)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a patch and checks its variant fields
func (p *Patch) UnmarshalJSON(data []byte) error {
	var w wirePatch
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	op, err := ParseOp(w.Type)
	if err != nil {
		return err
	}
	*p = Patch{Op: op, Path: w.Path, Name: w.Name, Node: w.Node, Permutation: w.Permutation}
	if w.Value != nil {
		p.Value = *w.Value
	}
	if w.Index != nil {
		p.Index = *w.Index
	}

	switch op {
	case OpSetText:
		if w.Value == nil {
			return fmt.Errorf("%s: missing value", w.Type)
		}
	case OpSetAttribute:
		if w.Name == "" || w.Value == nil {
			return fmt.Errorf("%s: missing name or value", w.Type)
		}
	case OpRemoveAttribute:
		if w.Name == "" {
			return fmt.Errorf("%s: missing name", w.Type)
		}
	case OpInsertChild, OpReplaceChild:
		if w.Index == nil || w.Node == nil {
			return fmt.Errorf("%s: missing index or node", w.Type)
		}
	case OpRemoveChild:
		if w.Index == nil {
			return fmt.Errorf("%s: missing index", w.Type)
		}
	case OpReorderChildren:
		if w.Permutation == nil {
			return fmt.Errorf("%s: missing permutation", w.Type)
		}
	}
	return nil
}
