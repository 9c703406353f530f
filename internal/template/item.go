package template

import (
	"fmt"
	"slices"

	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// AttrTemplate is one attribute of an item element
type AttrTemplate struct {
	Name  string        `json:"name"`
	Value TemplatePatch `json:"value"`
}

// ItemTemplate is the recursive template of one loop item: a text node
// with a TemplatePatch, or an element whose key, attributes and children
// are templates themselves.
type ItemTemplate struct {
	Kind     tree.Kind       `json:"type"`
	Text     *TemplatePatch  `json:"text,omitempty"`
	Tag      string          `json:"tag,omitempty"`
	Key      *TemplatePatch  `json:"key,omitempty"`
	Attrs    []AttrTemplate  `json:"attrs,omitempty"`
	Children []*ItemTemplate `json:"children,omitempty"`
}

// Render builds the item subtree for scope
func (it *ItemTemplate) Render(scope value.Value) (*tree.Node, error) {
	switch it.Kind {
	case tree.KindText:
		if it.Text == nil {
			return nil, fmt.Errorf("text item template without text")
		}
		s, err := it.Text.Render(scope)
		if err != nil {
			return nil, err
		}
		return tree.Text(s), nil

	case tree.KindElement, tree.KindFragment:
		n := &tree.Node{Kind: it.Kind, Tag: it.Tag}
		if it.Key != nil {
			key, err := it.Key.Render(scope)
			if err != nil {
				return nil, fmt.Errorf("key: %w", err)
			}
			n.Key = key
		}
		for _, a := range it.Attrs {
			v, err := a.Value.Render(scope)
			if err != nil {
				return nil, fmt.Errorf("attribute %s: %w", a.Name, err)
			}
			n.Attrs = append(n.Attrs, tree.Attr{Name: a.Name, Value: v})
		}
		for i, child := range it.Children {
			c, err := child.Render(scope)
			if err != nil {
				return nil, fmt.Errorf("child %d: %w", i, err)
			}
			n.Children = append(n.Children, c)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown item kind %s", it.Kind)
}

// Validate checks the item template recursively
func (it *ItemTemplate) Validate() error {
	switch it.Kind {
	case tree.KindText:
		if it.Text == nil {
			return fmt.Errorf("text item template without text")
		}
		return it.Text.Validate()
	case tree.KindElement:
		if it.Tag == "" {
			return fmt.Errorf("element item template without tag")
		}
	case tree.KindFragment:
	default:
		return fmt.Errorf("unknown item kind %d", it.Kind)
	}
	if it.Key != nil {
		if err := it.Key.Validate(); err != nil {
			return fmt.Errorf("key: %w", err)
		}
	}
	for _, a := range it.Attrs {
		if err := a.Value.Validate(); err != nil {
			return fmt.Errorf("attribute %s: %w", a.Name, err)
		}
	}
	for i, child := range it.Children {
		if child == nil {
			return fmt.Errorf("child %d is null", i)
		}
		if err := child.Validate(); err != nil {
			return fmt.Errorf("child %d: %w", i, err)
		}
	}
	return nil
}

// mergeItems combines two item templates of the same shape. Conditional
// parts merge their entries; everything else must agree.
func mergeItems(a, b *ItemTemplate) (*ItemTemplate, bool) {
	if a.Kind != b.Kind || a.Tag != b.Tag || len(a.Attrs) != len(b.Attrs) || len(a.Children) != len(b.Children) {
		return nil, false
	}
	out := &ItemTemplate{Kind: a.Kind, Tag: a.Tag}

	var ok bool
	if out.Text, ok = mergeParts(a.Text, b.Text); !ok {
		return nil, false
	}
	if out.Key, ok = mergeParts(a.Key, b.Key); !ok {
		return nil, false
	}
	for i := range a.Attrs {
		if a.Attrs[i].Name != b.Attrs[i].Name {
			return nil, false
		}
		v, ok := mergeParts(&a.Attrs[i].Value, &b.Attrs[i].Value)
		if !ok {
			return nil, false
		}
		out.Attrs = append(out.Attrs, AttrTemplate{Name: a.Attrs[i].Name, Value: *v})
	}
	for i := range a.Children {
		c, ok := mergeItems(a.Children[i], b.Children[i])
		if !ok {
			return nil, false
		}
		out.Children = append(out.Children, c)
	}
	return out, true
}

func mergeParts(a, b *TemplatePatch) (*TemplatePatch, bool) {
	if a == nil || b == nil {
		return a, a == nil && b == nil
	}
	if a.IsConditional() {
		m, ok := a.merge(*b)
		return &m, ok
	}
	if b.IsConditional() || a.Template != b.Template || !slices.Equal(a.Bindings, b.Bindings) {
		return nil, false
	}
	return a, true
}
