package tree

import "fmt"

// Limits bounds the size of trees accepted by the reconciler
type Limits struct {
	MaxDepth        int `yaml:"max_depth" validate:"min=1"`
	MaxNodes        int `yaml:"max_nodes" validate:"min=1"`
	MaxChildren     int `yaml:"max_children" validate:"min=1"`
	MaxAttrNameLen  int `yaml:"max_attr_name_len" validate:"min=1"`
	MaxAttrValueLen int `yaml:"max_attr_value_len" validate:"min=1"`
	MaxTextLen      int `yaml:"max_text_len" validate:"min=1"`
}

// DefaultLimits returns secure default limits
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:        100,
		MaxNodes:        10_000,
		MaxChildren:     1_000,
		MaxAttrNameLen:  256,
		MaxAttrValueLen: 4_096,
		MaxTextLen:      1 << 20,
	}
}

// LimitError reports a tree that exceeds one of the limits
type LimitError struct {
	Limit string
	Value int
	Max   int
	Path  []int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("tree exceeds %s at %v: %d > %d", e.Limit, e.Path, e.Value, e.Max)
}

// Validate checks n against the limits
func Validate(n *Node, limits Limits) error {
	if n == nil {
		return fmt.Errorf("nil tree")
	}
	count := 0
	return validate(n, limits, nil, &count)
}

func validate(n *Node, limits Limits, path []int, count *int) error {
	*count++
	if *count > limits.MaxNodes {
		return &LimitError{Limit: "max nodes", Value: *count, Max: limits.MaxNodes, Path: path}
	}
	if len(path) > limits.MaxDepth {
		return &LimitError{Limit: "max depth", Value: len(path), Max: limits.MaxDepth, Path: path}
	}

	switch n.Kind {
	case KindText:
		if len(n.Text) > limits.MaxTextLen {
			return &LimitError{Limit: "max text length", Value: len(n.Text), Max: limits.MaxTextLen, Path: path}
		}
		return nil
	case KindElement:
		if n.Tag == "" {
			return fmt.Errorf("element at %v has no tag", path)
		}
		for _, a := range n.Attrs {
			if len(a.Name) > limits.MaxAttrNameLen {
				return &LimitError{Limit: "max attribute name length", Value: len(a.Name), Max: limits.MaxAttrNameLen, Path: path}
			}
			if len(a.Value) > limits.MaxAttrValueLen {
				return &LimitError{Limit: "max attribute value length", Value: len(a.Value), Max: limits.MaxAttrValueLen, Path: path}
			}
		}
	}

	if len(n.Children) > limits.MaxChildren {
		return &LimitError{Limit: "max children", Value: len(n.Children), Max: limits.MaxChildren, Path: path}
	}
	for i, child := range n.Children {
		if child == nil {
			return fmt.Errorf("nil child at %v", ChildPath(path, i))
		}
		if err := validate(child, limits, ChildPath(path, i), count); err != nil {
			return err
		}
	}
	return nil
}
