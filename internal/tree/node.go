package tree

import (
	"fmt"
	"html"
	"strings"
)

// Kind identifies the node variant
type Kind uint8

const (
	KindElement Kind = iota
	KindText
	KindFragment
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindElement:
		return "element"
	case KindText:
		return "text"
	case KindFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by its wire name
func (k Kind) MarshalText() ([]byte, error) {
	if k > KindFragment {
		return nil, fmt.Errorf("unknown node kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a wire name
func (k *Kind) UnmarshalText(text []byte) error {
	for _, kind := range []Kind{KindElement, KindText, KindFragment} {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown node type %q", text)
}

// Attr is one entry of an element's ordered attribute map
type Attr struct {
	Name  string
	Value string
}

// Node is one node of a rendered tree. Trees are treated as immutable
// once built; Apply works on a copy.
type Node struct {
	Kind     Kind
	Tag      string
	Key      string
	Attrs    []Attr
	Children []*Node
	Text     string
}

// Element creates an element node
func Element(tag string, attrs []Attr, children ...*Node) *Node {
	return &Node{Kind: KindElement, Tag: tag, Attrs: attrs, Children: children}
}

// Text creates a text node
func Text(s string) *Node {
	return &Node{Kind: KindText, Text: s}
}

// Fragment creates a fragment node
func Fragment(children ...*Node) *Node {
	return &Node{Kind: KindFragment, Children: children}
}

// Attrs builds an attribute list from name/value pairs
func Attrs(pairs ...string) []Attr {
	if len(pairs)%2 != 0 {
		panic("tree.Attrs: odd number of arguments")
	}
	attrs := make([]Attr, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		attrs = append(attrs, Attr{Name: pairs[i], Value: pairs[i+1]})
	}
	return attrs
}

// WithKey returns a shallow copy of n carrying key
func (n *Node) WithKey(key string) *Node {
	c := *n
	c.Key = key
	return &c
}

// Attr returns the value of the named attribute
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// IsText reports whether n is a text node
func (n *Node) IsText() bool { return n != nil && n.Kind == KindText }

// IsElement reports whether n is an element node
func (n *Node) IsElement() bool { return n != nil && n.Kind == KindElement }

// At resolves a child-index path from n
func (n *Node) At(path []int) (*Node, error) {
	cur := n
	for depth, idx := range path {
		if cur == nil || cur.Kind == KindText {
			return nil, fmt.Errorf("path %v: no children at depth %d", path, depth)
		}
		if idx < 0 || idx >= len(cur.Children) {
			return nil, fmt.Errorf("path %v: index %d out of range at depth %d", path, idx, depth)
		}
		cur = cur.Children[idx]
	}
	if cur == nil {
		return nil, fmt.Errorf("path %v: nil node", path)
	}
	return cur, nil
}

// Clone deep-copies the subtree
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Kind: n.Kind, Tag: n.Tag, Key: n.Key, Text: n.Text}
	if n.Attrs != nil {
		c.Attrs = make([]Attr, len(n.Attrs))
		copy(c.Attrs, n.Attrs)
	}
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// Equal reports structural equality, keys included. Attribute order is
// significant only through the values it maps to.
func (n *Node) Equal(o *Node) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	if n.Kind != o.Kind || n.Tag != o.Tag || n.Key != o.Key || n.Text != o.Text {
		return false
	}
	if len(n.Attrs) != len(o.Attrs) {
		return false
	}
	for _, a := range n.Attrs {
		if v, ok := o.Attr(a.Name); !ok || v != a.Value {
			return false
		}
	}
	if len(n.Children) != len(o.Children) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}

// TextContent concatenates the text of the subtree
func (n *Node) TextContent() string {
	if n == nil {
		return ""
	}
	if n.Kind == KindText {
		return n.Text
	}
	var sb strings.Builder
	for _, child := range n.Children {
		sb.WriteString(child.TextContent())
	}
	return sb.String()
}

// Count returns the number of nodes in the subtree
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, child := range n.Children {
		total += child.Count()
	}
	return total
}

// String renders the subtree as HTML. Keys render as data-key.
func (n *Node) String() string {
	var sb strings.Builder
	n.render(&sb)
	return sb.String()
}

func (n *Node) render(sb *strings.Builder) {
	if n == nil {
		return
	}
	switch n.Kind {
	case KindText:
		sb.WriteString(html.EscapeString(n.Text))
	case KindFragment:
		for _, child := range n.Children {
			child.render(sb)
		}
	case KindElement:
		sb.WriteByte('<')
		sb.WriteString(n.Tag)
		if n.Key != "" {
			fmt.Fprintf(sb, " data-key=\"%s\"", html.EscapeString(n.Key))
		}
		for _, a := range n.Attrs {
			fmt.Fprintf(sb, " %s=\"%s\"", a.Name, html.EscapeString(a.Value))
		}
		sb.WriteByte('>')
		for _, child := range n.Children {
			child.render(sb)
		}
		sb.WriteString("</")
		sb.WriteString(n.Tag)
		sb.WriteByte('>')
	}
}
