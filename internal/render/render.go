// Package render materializes learned templates into concrete patches.
// Materialization is pure: it reads the template, the change and the
// state before the change, and never sees a tree.
package render

import (
	"fmt"
	"slices"

	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// Materialize returns the patches t predicts for change applied to st.
// A template that cannot serve the change (an unseen branch, an array
// mutation it does not describe) yields template.ErrPredictionMiss.
func Materialize(t template.Template, change state.Change, st value.Value) ([]tree.Patch, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: no template", template.ErrPredictionMiss)
	}
	if st.IsNull() {
		st = value.Object()
	}

	switch t := t.(type) {
	case *template.PatchSet:
		scope, err := change.Scope(st)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", template.ErrPredictionMiss, err)
		}
		return patchSet(t, scope)
	case *template.LoopTemplate:
		return loop(t, change)
	case *template.StructuralTemplate:
		return structural(t, change)
	case *template.ReorderTemplate:
		return reorder(t, change)
	}
	return nil, fmt.Errorf("%w: %T", template.ErrUnsupported, t)
}

func patchSet(ps *template.PatchSet, scope value.Value) ([]tree.Patch, error) {
	out := make([]tree.Patch, 0, len(ps.Patches))
	for i := range ps.Patches {
		p, err := ps.Patches[i].Render(scope)
		if err != nil {
			return nil, fmt.Errorf("patch %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// loop emits only the edit the array operation implies. Without a
// caller-supplied operation one is derived from the old and new arrays.
func loop(lt *template.LoopTemplate, change state.Change) ([]tree.Patch, error) {
	op := change.ArrayOp
	if op == nil {
		next, err := change.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", template.ErrPredictionMiss, err)
		}
		derived, ok := state.DeriveArrayOp(change.OldValue, next)
		if !ok {
			return nil, fmt.Errorf("%w: %s changed by more than one item", template.ErrPredictionMiss, change.StateKey)
		}
		op = derived
	}

	n := change.OldValue.Len()
	pos, err := op.Position(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrPredictionMiss, err)
	}
	parent := lt.ParentPath
	sep := lt.Separator

	switch {
	case op.IsInsert():
		node, err := lt.Item.Render(lt.ItemScope(op.Item, pos))
		if err != nil {
			return nil, err
		}
		switch {
		case sep == "" || n == 0:
			return []tree.Patch{tree.InsertChild(parent, lt.ChildIndex(pos), node)}, nil
		case pos == 0:
			return []tree.Patch{
				tree.InsertChild(parent, lt.Offset, node),
				tree.InsertChild(parent, lt.Offset+1, tree.Text(sep)),
			}, nil
		default:
			at := lt.ChildIndex(pos)
			return []tree.Patch{
				tree.InsertChild(parent, at-1, tree.Text(sep)),
				tree.InsertChild(parent, at, node),
			}, nil
		}

	case op.Kind == state.OpRemoveAt:
		at := lt.ChildIndex(pos)
		switch {
		case sep == "" || n == 1:
			return []tree.Patch{tree.RemoveChild(parent, at)}, nil
		case pos == 0:
			return []tree.Patch{
				tree.RemoveChild(parent, at+1),
				tree.RemoveChild(parent, at),
			}, nil
		default:
			return []tree.Patch{
				tree.RemoveChild(parent, at),
				tree.RemoveChild(parent, at-1),
			}, nil
		}

	case op.Kind == state.OpUpdateAt:
		node, err := lt.Item.Render(lt.ItemScope(op.Item, pos))
		if err != nil {
			return nil, err
		}
		return []tree.Patch{tree.ReplaceChild(parent, lt.ChildIndex(pos), node)}, nil
	}
	return nil, fmt.Errorf("%w: array op %s", template.ErrUnsupported, op.Kind)
}

// structural swaps the branch rendered for the old condition value for
// the one rendered for the new value
func structural(st *template.StructuralTemplate, change state.Change) ([]tree.Patch, error) {
	next, err := change.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrPredictionMiss, err)
	}
	oldKey, newKey := change.OldValue.String(), next.String()

	from, ok := st.Branch(oldKey)
	if !ok {
		return nil, fmt.Errorf("%w: no branch for %s=%s", template.ErrPredictionMiss, st.ConditionBinding, oldKey)
	}
	to, ok := st.Branch(newKey)
	if !ok {
		return nil, fmt.Errorf("%w: no branch for %s=%s", template.ErrPredictionMiss, st.ConditionBinding, newKey)
	}

	switch {
	case from == nil && to == nil:
		return []tree.Patch{}, nil
	case from.Equal(to):
		return []tree.Patch{}, nil
	case st.Index == tree.Root:
		return []tree.Patch{tree.ReplaceChild(st.Path, tree.Root, to.Clone())}, nil
	case from == nil:
		return []tree.Patch{tree.InsertChild(st.Path, st.Index, to.Clone())}, nil
	case to == nil:
		return []tree.Patch{tree.RemoveChild(st.Path, st.Index)}, nil
	}
	return []tree.Patch{tree.ReplaceChild(st.Path, st.Index, to.Clone())}, nil
}

// reorder applies the stored ordering to the old items. The new value
// must be exactly that ordering, or the template does not explain the
// change.
func reorder(rt *template.ReorderTemplate, change state.Change) ([]tree.Patch, error) {
	next, err := change.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrPredictionMiss, err)
	}
	items, want := change.OldValue.Items(), next.Items()

	if rt.Order.Kind == template.Filter {
		keep, err := rt.Order.Keep(items)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", template.ErrPredictionMiss, err)
		}
		var kept []value.Value
		for i, k := range keep {
			if k {
				kept = append(kept, items[i])
			}
		}
		if !slices.EqualFunc(kept, want, value.Value.Equal) {
			return nil, fmt.Errorf("%w: %s is not %s of the old items", template.ErrPredictionMiss, change.StateKey, rt.Order)
		}
		out := []tree.Patch{}
		for i := len(keep) - 1; i >= 0; i-- {
			if !keep[i] {
				out = append(out, tree.RemoveChild(rt.ParentPath, rt.Offset+i))
			}
		}
		return out, nil
	}

	perm, err := rt.Order.Permutation(items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrPredictionMiss, err)
	}
	if len(want) != len(items) {
		return nil, fmt.Errorf("%w: %s changed length", template.ErrPredictionMiss, change.StateKey)
	}
	identity := true
	for i, from := range perm {
		if !want[i].Equal(items[from]) {
			return nil, fmt.Errorf("%w: %s is not %s of the old items", template.ErrPredictionMiss, change.StateKey, rt.Order)
		}
		identity = identity && from == i
	}
	if identity {
		return []tree.Patch{}, nil
	}

	full := make([]int, rt.Offset+len(items)+rt.Trailing)
	for i := range full {
		full[i] = i
	}
	for i, from := range perm {
		full[rt.Offset+i] = rt.Offset + from
	}
	return []tree.Patch{tree.ReorderChildren(rt.ParentPath, full)}, nil
}
