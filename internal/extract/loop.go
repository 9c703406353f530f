package extract

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// extractLoop builds a LoopTemplate from the single item an array
// operation touched, without comparing the rest of the list
func (e *Extractor) extractLoop(o *observation, op *state.ArrayOp, derived bool) (*Result, error) {
	rule := RuleLoopFastPath
	if derived {
		rule = RuleLoopDiff
	}

	pos, err := op.Position(o.prev.Len())
	if err != nil {
		return nil, &template.ExtractionError{Rule: rule, Err: fmt.Errorf("%w: %v", template.ErrUnsupported, err)}
	}

	var lt *template.LoopTemplate
	switch {
	case op.IsInsert():
		lt, err = e.loopInsert(o, op, pos)
	case op.Kind == state.OpRemoveAt:
		lt, err = e.loopRemove(o, op, pos)
	default:
		lt, err = e.loopUpdate(o, op, pos)
	}
	if err != nil {
		var ee *template.ExtractionError
		if errors.As(err, &ee) {
			ee.Rule = rule
			return nil, ee
		}
		return nil, &template.ExtractionError{Rule: rule, Err: err}
	}
	return &Result{Template: lt, Rule: rule, Derived: derived}, nil
}

func (e *Extractor) loopInsert(o *observation, op *state.ArrayOp, pos int) (*template.LoopTemplate, error) {
	if prior := priorLoop(o); prior != nil && !onlyOp(o.patches, tree.OpInsertChild) {
		return e.loopFromPrior(o, op, pos, prior)
	}
	for _, p := range o.patches {
		if p.Op != tree.OpInsertChild {
			return nil, unsupported("", p.Path, "array %s produced %s", op.Kind, p.Op)
		}
	}

	var parent []int
	var itemIdx int
	var node *tree.Node
	var sep string

	switch len(o.patches) {
	case 1:
		p := o.patches[0]
		parent, itemIdx, node = p.Path, p.Index, p.Node

	case 2:
		a, b := o.patches[0], o.patches[1]
		if a.Index > b.Index {
			a, b = b, a
		}
		if !slices.Equal(a.Path, b.Path) || b.Index != a.Index+1 || pos == 0 {
			return nil, unsupported("", a.Path, "two insertions that are not an item and its separator")
		}
		switch {
		case a.Node.IsText() && !b.Node.IsText():
			sep, itemIdx, node = a.Node.Text, b.Index, b.Node
		case b.Node.IsText() && !a.Node.IsText():
			sep, itemIdx, node = b.Node.Text, a.Index, a.Node
		default:
			return nil, unsupported("", a.Path, "cannot tell the item from its separator")
		}
		parent = a.Path

	default:
		return nil, unsupported("", nil, "array %s produced %d insertions", op.Kind, len(o.patches))
	}

	lt := &template.LoopTemplate{
		ArrayBinding: o.key,
		ParentPath:   parent,
		IndexVar:     template.DefaultIndexVar,
		Separator:    sep,
	}
	lt.Offset = itemIdx - lt.Stride()*pos
	if lt.Offset < 0 {
		return nil, unsupported("", parent, "item %d at child %d", pos, itemIdx)
	}

	item, err := e.itemTemplate(node, lt.ItemScope(op.Item, pos))
	if err != nil {
		return nil, &template.ExtractionError{Path: tree.ChildPath(parent, itemIdx), Err: err}
	}
	lt.Item = item
	return lt, nil
}

func (e *Extractor) loopRemove(o *observation, op *state.ArrayOp, pos int) (*template.LoopTemplate, error) {
	if prior := priorLoop(o); prior != nil && !onlyOp(o.patches, tree.OpRemoveChild) {
		return e.loopFromPrior(o, op, pos, prior)
	}
	for _, p := range o.patches {
		if p.Op != tree.OpRemoveChild {
			return nil, unsupported("", p.Path, "array removeAt produced %s", p.Op)
		}
	}
	prior := priorLoop(o)

	var parent []int
	var itemIdx int
	var sep string

	switch len(o.patches) {
	case 1:
		p := o.patches[0]
		parent, itemIdx = p.Path, p.Index
		if prior != nil && o.prev.Len() == 1 {
			sep = prior.Separator
		}

	case 2:
		a, b := o.patches[0], o.patches[1]
		if a.Index > b.Index {
			a, b = b, a
		}
		if !slices.Equal(a.Path, b.Path) || b.Index != a.Index+1 {
			return nil, unsupported("", a.Path, "two removals that are not an item and its separator")
		}
		parent = a.Path
		na, errA := o.OldTree.At(tree.ChildPath(parent, a.Index))
		nb, errB := o.OldTree.At(tree.ChildPath(parent, b.Index))
		if errA != nil || errB != nil {
			return nil, unsupported("", parent, "removed children missing from old tree")
		}
		switch {
		case na.IsText() && !nb.IsText():
			sep, itemIdx = na.Text, b.Index
		case nb.IsText() && !na.IsText():
			sep, itemIdx = nb.Text, a.Index
		default:
			return nil, unsupported("", parent, "cannot tell the item from its separator")
		}

	default:
		return nil, unsupported("", nil, "array removeAt produced %d removals", len(o.patches))
	}

	lt := &template.LoopTemplate{
		ArrayBinding: o.key,
		ParentPath:   parent,
		IndexVar:     template.DefaultIndexVar,
		Separator:    sep,
	}
	lt.Offset = itemIdx - lt.Stride()*pos
	if lt.Offset < 0 {
		return nil, unsupported("", parent, "item %d at child %d", pos, itemIdx)
	}

	if prior != nil && prior.Item != nil {
		lt.Item = prior.Item
		return lt, nil
	}
	node, err := o.OldTree.At(tree.ChildPath(parent, itemIdx))
	if err != nil {
		return nil, unsupported("", parent, "removed item missing from old tree")
	}
	item, err := e.itemTemplate(node, lt.ItemScope(o.prev.Index(pos), pos))
	if err != nil {
		return nil, &template.ExtractionError{Path: tree.ChildPath(parent, itemIdx), Err: err}
	}
	lt.Item = item
	return lt, nil
}

func (e *Extractor) loopUpdate(o *observation, op *state.ArrayOp, pos int) (*template.LoopTemplate, error) {
	lt := &template.LoopTemplate{ArrayBinding: o.key, IndexVar: template.DefaultIndexVar}
	var itemPath []int

	if prior := priorLoop(o); prior != nil {
		lt.ParentPath, lt.Offset, lt.Separator = prior.ParentPath, prior.Offset, prior.Separator
		if prior.IndexVar != "" {
			lt.IndexVar = prior.IndexVar
		}
		itemPath = tree.ChildPath(lt.ParentPath, lt.ChildIndex(pos))
	} else {
		key := state.ItemKey(op.Item)
		if key == "" || len(o.patches) == 0 {
			return nil, unsupported("", nil, "updated item has no identity and no loop template is known")
		}
		target := o.patches[0].Target()
		for l := len(target); l >= 1; l-- {
			if n, err := o.NewTree.At(target[:l]); err == nil && n.Key == key {
				itemPath = slices.Clone(target[:l])
				break
			}
		}
		if itemPath == nil {
			return nil, unsupported("", target, "no ancestor carries item key %q", key)
		}
		lt.ParentPath = itemPath[:len(itemPath)-1]
		lt.Offset = itemPath[len(itemPath)-1] - pos
		if lt.Offset < 0 {
			return nil, unsupported("", itemPath, "item %d at child %d", pos, itemPath[len(itemPath)-1])
		}
	}

	for _, p := range o.patches {
		if !hasPrefix(p.Target(), itemPath) {
			return nil, unsupported("", p.Path, "array updateAt touched nodes outside item %v", itemPath)
		}
	}

	node, err := o.NewTree.At(itemPath)
	if err != nil {
		return nil, unsupported("", itemPath, "updated item missing from new tree")
	}
	item, err := e.itemTemplate(node, lt.ItemScope(op.Item, pos))
	if err != nil {
		return nil, &template.ExtractionError{Path: itemPath, Err: err}
	}
	lt.Item = item
	return lt, nil
}

// loopFromPrior places an inserted or removed item through the known
// loop template. Without keys the reconciler rewrites every item after
// the edit in place, so the patches alone do not show where it went; the
// template's positions must explain the new children exactly.
func (e *Extractor) loopFromPrior(o *observation, op *state.ArrayOp, pos int, prior *template.LoopTemplate) (*template.LoopTemplate, error) {
	for _, p := range o.patches {
		if !hasPrefix(p.Target(), prior.ParentPath) {
			return nil, unsupported("", p.Path, "array %s touched nodes outside list %v", op.Kind, prior.ParentPath)
		}
	}
	oldParent, errOld := o.OldTree.At(prior.ParentPath)
	newParent, errNew := o.NewTree.At(prior.ParentPath)
	if errOld != nil || errNew != nil {
		return nil, unsupported("", prior.ParentPath, "list missing from rendered tree")
	}

	lt := &template.LoopTemplate{
		ArrayBinding: o.key,
		ParentPath:   prior.ParentPath,
		Offset:       prior.Offset,
		IndexVar:     prior.IndexVar,
		Separator:    prior.Separator,
	}
	if lt.IndexVar == "" {
		lt.IndexVar = template.DefaultIndexVar
	}
	n := o.prev.Len()
	at := lt.ChildIndex(pos)
	sep := tree.Text(lt.Separator)
	old := slices.Clone(oldParent.Children)
	var want []*tree.Node

	if op.IsInsert() {
		if at >= len(newParent.Children) {
			return nil, unsupported("", prior.ParentPath, "item %d beyond the rendered list", pos)
		}
		node := newParent.Children[at]
		item, err := e.itemTemplate(node, lt.ItemScope(op.Item, pos))
		if err != nil {
			return nil, &template.ExtractionError{Path: tree.ChildPath(lt.ParentPath, at), Err: err}
		}
		lt.Item = item

		switch {
		case lt.Separator == "" || n == 0:
			want = slices.Insert(old, min(at, len(old)), node)
		case pos == 0:
			want = slices.Insert(old, min(lt.Offset, len(old)), node, sep)
		default:
			want = slices.Insert(old, min(at-1, len(old)), sep, node)
		}
	} else {
		if prior.Item == nil {
			return nil, unsupported("", prior.ParentPath, "no item template to remove")
		}
		lt.Item = prior.Item

		from, to := at, at+1
		switch {
		case lt.Separator == "" || n == 1:
		case pos == 0:
			to++
		default:
			from--
		}
		if from < 0 || to > len(old) {
			return nil, unsupported("", prior.ParentPath, "item %d beyond the rendered list", pos)
		}
		want = slices.Delete(old, from, to)
	}

	if !slices.EqualFunc(want, newParent.Children, (*tree.Node).Equal) {
		return nil, unsupported("", prior.ParentPath, "array %s at %d is not explained by the loop template", op.Kind, pos)
	}
	return lt, nil
}

func onlyOp(patches []tree.Patch, op tree.Op) bool {
	for _, p := range patches {
		if p.Op != op {
			return false
		}
	}
	return true
}

func priorLoop(o *observation) *template.LoopTemplate {
	if lt, ok := o.Prior.(*template.LoopTemplate); ok && lt.ArrayBinding == o.key {
		return lt
	}
	return nil
}

func hasPrefix(path, prefix []int) bool {
	return len(path) >= len(prefix) && slices.Equal(path[:len(prefix)], prefix)
}

// itemTemplate generalizes one rendered item against its scope. Each
// text, key and attribute value goes through the item rules: bindings to
// item fields, a whitelisted transform of one field, else a literal. A
// value with literal text left over depends on the item's flag when the
// item has exactly one. The result must render the observed node back.
func (e *Extractor) itemTemplate(node *tree.Node, scope value.Value) (*template.ItemTemplate, error) {
	it, err := e.buildItem(node, newItemScope(scope, e.config.Schema))
	if err != nil {
		return nil, err
	}
	rendered, err := it.Render(scope)
	if err != nil || !rendered.Equal(node) {
		return nil, fmt.Errorf("%w: item template does not reproduce %s", template.ErrExtractionUnverified, node)
	}
	return it, nil
}

func (e *Extractor) buildItem(node *tree.Node, is *itemScope) (*template.ItemTemplate, error) {
	it := &template.ItemTemplate{Kind: node.Kind, Tag: node.Tag}
	if node.Kind == tree.KindText {
		tp, err := e.itemValue(is, node.Text, true)
		if err != nil {
			return nil, err
		}
		it.Text = &tp
		return it, nil
	}

	if node.Key != "" {
		tp, err := e.itemValue(is, node.Key, false)
		if err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
		it.Key = &tp
	}
	for _, a := range node.Attrs {
		tp, err := e.itemValue(is, a.Value, true)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		it.Attrs = append(it.Attrs, template.AttrTemplate{Name: a.Name, Value: tp})
	}
	for _, child := range node.Children {
		c, err := e.buildItem(child, is)
		if err != nil {
			return nil, err
		}
		it.Children = append(it.Children, c)
	}
	return it, nil
}

// itemScope splits an item's leaves into the values that may be located
// in rendered text and the flags that may only select between literals.
// Booleans, nulls and the index are never located: their display strings
// are too short and too common.
type itemScope struct {
	pairs []value.Pair
	flags []value.Pair
}

func newItemScope(scope value.Value, schema *value.Schema) *itemScope {
	is := &itemScope{}
	for _, p := range value.Flatten(scope) {
		if value.Root(p.Path) != template.ItemVar {
			continue
		}
		switch p.Value.Kind() {
		case value.KindBool:
			is.flags = append(is.flags, p)
			continue
		case value.KindNull:
			continue
		case value.KindString:
			if schema != nil && schema.IsEnum(p.Path) {
				is.flags = append(is.flags, p)
			}
		}
		is.pairs = append(is.pairs, p)
	}
	return is
}

// itemValue generalizes one string of an item
func (e *Extractor) itemValue(is *itemScope, text string, conditional bool) (template.TemplatePatch, error) {
	if text == "" {
		return template.Literal(text), nil
	}
	tp, err := multiBinding(is.pairs, text)
	if errors.Is(err, template.ErrUnsupported) {
		tp, err = e.itemTransform(is, text)
		if errors.Is(err, template.ErrUnsupported) {
			tp, err = template.Literal(text), nil
		}
	}
	if err != nil || !conditional {
		return tp, err
	}
	return e.itemCondition(is, tp, text), nil
}

// itemTransform binds the unique occurrence of one field shown through a
// whitelisted transform
func (e *Extractor) itemTransform(is *itemScope, text string) (template.TemplatePatch, error) {
	for _, p := range is.pairs {
		for _, name := range e.config.Transforms {
			shown, err := template.ApplyTransform(name, p.Value)
			if err != nil || shown == "" || shown == p.Value.String() {
				continue
			}
			if tp, err := single(text, shown, template.Binding{StateKey: p.Path, Transform: name}); err == nil {
				return tp, nil
			}
		}
	}
	return template.TemplatePatch{}, fmt.Errorf("%w: no item field occurs in %q", template.ErrUnsupported, text)
}

// itemCondition makes the literal text of tp depend on the item's only
// unbound flag. Without exactly one such flag, or without literal text
// left over, tp is returned unchanged.
func (e *Extractor) itemCondition(is *itemScope, tp template.TemplatePatch, text string) template.TemplatePatch {
	rest, err := template.Format(tp.Template, make([]string, len(tp.Bindings)))
	if err != nil || strings.TrimSpace(rest) == "" {
		return tp
	}

	var flag *value.Pair
	for i, f := range is.flags {
		if slices.ContainsFunc(tp.Bindings, func(b template.Binding) bool { return b.StateKey == f.Path }) {
			continue
		}
		if flag != nil {
			return tp
		}
		flag = &is.flags[i]
	}
	if flag == nil {
		return tp
	}

	entry := tp.Template
	if len(tp.Bindings) == 0 {
		entry = text
	}
	return template.TemplatePatch{
		Bindings:                append(slices.Clone(tp.Bindings), template.Binding{StateKey: flag.Path}),
		ConditionalTemplates:    map[string]string{flag.Value.String(): entry},
		ConditionalBindingIndex: len(tp.Bindings),
	}
}
