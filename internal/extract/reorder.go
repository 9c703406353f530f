package extract

import (
	"slices"

	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/value"
)

// extractReorder explains a single ReorderChildren by a sort or a
// reversal of the changed array. The array items must occupy one
// contiguous window of the parent's children.
func (e *Extractor) extractReorder(o *observation) (*Result, error) {
	p := o.patches[0]
	if !isArray(o.prev) || !isArray(o.next) || o.prev.Len() != o.next.Len() {
		return nil, unsupported(RuleReorder, p.Path, "%s is not a reordered array", o.key)
	}
	prev, next := o.prev.Items(), o.next.Items()
	perm := p.Permutation

	for offset := 0; offset+len(prev) <= len(perm); offset++ {
		window, ok := permutationWindow(perm, offset, len(prev))
		if !ok {
			continue
		}
		if !permutes(prev, next, window) {
			return nil, unsupported(RuleReorder, p.Path, "rendered order does not follow %s", o.key)
		}
		for _, ord := range orderings(prev) {
			got, err := ord.Permutation(prev)
			if err != nil || !slices.Equal(got, window) {
				continue
			}
			rt := &template.ReorderTemplate{
				ArrayBinding: o.key,
				ParentPath:   p.Path,
				Offset:       offset,
				Trailing:     len(perm) - offset - len(prev),
				Order:        ord,
			}
			return &Result{Template: rt, Rule: RuleReorder}, nil
		}
		return nil, unsupported(RuleReorder, p.Path, "no sort or reversal of %s explains the new order", o.key)
	}
	return nil, unsupported(RuleReorder, p.Path, "%d items of %s do not fill a window of %d children", len(prev), o.key, len(perm))
}

// permutationWindow checks that perm moves only children inside
// [offset, offset+n) and returns the moves relative to the window
func permutationWindow(perm []int, offset, n int) ([]int, bool) {
	window := make([]int, 0, n)
	for i, from := range perm {
		inside := i >= offset && i < offset+n
		switch {
		case !inside && from != i:
			return nil, false
		case inside && (from < offset || from >= offset+n):
			return nil, false
		case inside:
			window = append(window, from-offset)
		}
	}
	return window, true
}

func permutes(prev, next []value.Value, perm []int) bool {
	for i, from := range perm {
		if !next[i].Equal(prev[from]) {
			return false
		}
	}
	return true
}

// orderings lists the candidate expressions: ascending then descending
// sorts over every scalar field shared by all items, then a reversal
func orderings(items []value.Value) []template.Ordering {
	var out []template.Ordering
	for _, field := range sortFields(items) {
		out = append(out,
			template.Ordering{Kind: template.SortAsc, Field: field},
			template.Ordering{Kind: template.SortDesc, Field: field},
		)
	}
	return append(out, template.Ordering{Kind: template.Reverse})
}

func sortFields(items []value.Value) []string {
	if len(items) == 0 {
		return nil
	}
	if items[0].IsPrimitive() {
		for _, item := range items {
			if !item.IsPrimitive() {
				return nil
			}
		}
		return []string{""}
	}

	var fields []string
	for _, leaf := range value.Flatten(items[0]) {
		shared := true
		for _, item := range items[1:] {
			if v, ok := value.Lookup(item, leaf.Path); !ok || !v.IsPrimitive() {
				shared = false
				break
			}
		}
		if shared {
			fields = append(fields, leaf.Path)
		}
	}
	return fields
}

// extractFilter explains a batch of removals from one list by a
// predicate `item.<field> != literal` that every removed item fails and
// every kept item passes
func (e *Extractor) extractFilter(o *observation) (*Result, error) {
	if !isArray(o.next) && !o.next.IsNull() {
		return nil, unsupported(RuleFilter, nil, "%s is no longer an array", o.key)
	}
	prev, next := o.prev.Items(), o.next.Items()

	removed, ok := subsequence(prev, next)
	if !ok || len(removed) != len(o.patches) {
		return nil, unsupported(RuleFilter, nil, "%s did not lose exactly the removed items", o.key)
	}

	parent := o.patches[0].Path
	children := make([]int, 0, len(o.patches))
	for _, p := range o.patches {
		children = append(children, p.Index)
	}
	slices.Sort(children)
	offset := children[0] - removed[0]
	for i, c := range children {
		if c-offset != removed[i] {
			return nil, unsupported(RuleFilter, parent, "removed children do not line up with removed items")
		}
	}

	parentNode, err := o.OldTree.At(parent)
	if err != nil {
		return nil, unsupported(RuleFilter, parent, "parent missing from old tree")
	}
	trailing := len(parentNode.Children) - offset - len(prev)
	if offset < 0 || trailing < 0 {
		return nil, unsupported(RuleFilter, parent, "%d items of %s do not fit %d children", len(prev), o.key, len(parentNode.Children))
	}

	keep := make([]bool, len(prev))
	for i := range keep {
		keep[i] = true
	}
	for _, i := range removed {
		keep[i] = false
	}

	for _, field := range sortFields(prev) {
		literal, ok := sharedLiteral(prev, keep, field)
		if !ok {
			continue
		}
		ord := template.Ordering{Kind: template.Filter, Predicate: template.FieldPredicate(field, "!=", literal)}
		got, err := ord.Keep(prev)
		if err != nil || !slices.Equal(got, keep) {
			continue
		}
		rt := &template.ReorderTemplate{
			ArrayBinding: o.key,
			ParentPath:   parent,
			Offset:       offset,
			Trailing:     trailing,
			Order:        ord,
		}
		return &Result{Template: rt, Rule: RuleFilter}, nil
	}
	return nil, unsupported(RuleFilter, parent, "no field separates removed from kept items of %s", o.key)
}

// subsequence returns the indices of prev missing from next when next is
// prev with some items removed
func subsequence(prev, next []value.Value) ([]int, bool) {
	var removed []int
	j := 0
	for i, item := range prev {
		if j < len(next) && next[j].Equal(item) {
			j++
			continue
		}
		removed = append(removed, i)
	}
	return removed, j == len(next) && len(removed) > 0
}

// sharedLiteral returns the value field has in every removed item, when
// no kept item has it
func sharedLiteral(items []value.Value, keep []bool, field string) (value.Value, bool) {
	var literal value.Value
	found := false
	for i, item := range items {
		if keep[i] {
			continue
		}
		v, _ := value.Lookup(item, field)
		if !found {
			literal, found = v, true
		} else if !v.Equal(literal) {
			return value.Value{}, false
		}
	}
	if !found {
		return value.Value{}, false
	}
	for i, item := range items {
		if !keep[i] {
			continue
		}
		if v, _ := value.Lookup(item, field); v.Equal(literal) {
			return value.Value{}, false
		}
	}
	return literal, true
}
