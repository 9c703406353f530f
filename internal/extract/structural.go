package extract

import (
	"fmt"

	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
)

// extractStructural records which subtree each value of an enum-like
// condition renders. One observation yields two branches; later
// observations add more through template.Merge.
func (e *Extractor) extractStructural(o *observation) (*Result, error) {
	if len(o.patches) != 1 {
		return nil, unsupported(RuleStructural, nil, "%d structural patches", len(o.patches))
	}
	if !e.isEnumLike(o.key, o.prev) || !e.isEnumLike(o.key, o.next) {
		return nil, unsupported(RuleStructural, nil, "%s is not enum-like", o.key)
	}
	oldKey, newKey := o.prev.String(), o.next.String()
	if oldKey == newKey {
		return nil, unsupported(RuleStructural, nil, "%s renders differently for the same value %q", o.key, oldKey)
	}

	p := o.patches[0]
	st := &template.StructuralTemplate{
		ConditionBinding: o.key,
		Path:             p.Path,
		Index:            p.Index,
		Branches:         make(map[string]*tree.Node, 2),
	}

	switch p.Op {
	case tree.OpInsertChild:
		st.Branches[oldKey] = nil
		st.Branches[newKey] = p.Node

	case tree.OpRemoveChild:
		removed, err := o.OldTree.At(p.Target())
		if err != nil {
			return nil, unsupported(RuleStructural, p.Path, "removed child missing from old tree")
		}
		st.Branches[oldKey] = removed
		st.Branches[newKey] = nil

	case tree.OpReplaceChild:
		replaced, err := o.OldTree.At(p.Target())
		if err != nil {
			return nil, unsupported(RuleStructural, p.Path, "replaced child missing from old tree")
		}
		st.Branches[oldKey] = replaced
		st.Branches[newKey] = p.Node

	default:
		return nil, unsupported(RuleStructural, p.Path, "%s is not structural", p.Op)
	}

	if err := st.Validate(); err != nil {
		return nil, &template.ExtractionError{Rule: RuleStructural, Path: p.Path, Err: fmt.Errorf("%w: %v", template.ErrExtractionUnverified, err)}
	}
	return &Result{Template: st, Rule: RuleStructural}, nil
}
