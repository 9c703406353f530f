package template

import (
	"encoding/json"
	"fmt"

	"github.com/livefir/livepredict/internal/tree"
)

// Wire form: every template variant is a JSON object with a "type"
// discriminator plus the variant's fields.
//
//	{"type":"patches","patches":[{"op":"setText","path":[0],"value":{"template":"Count: {0}","bindings":[{"state_key":"count"}]}}]}
//	{"type":"loop","array_binding":"todos","parent_path":[1],"offset":0,"item_template":{...},"index_var":"index"}

func (ps *PatchSet) MarshalJSON() ([]byte, error) {
	type alias PatchSet
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindPatches, (*alias)(ps)})
}

func (lt *LoopTemplate) MarshalJSON() ([]byte, error) {
	type alias LoopTemplate
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindLoop, (*alias)(lt)})
}

func (st *StructuralTemplate) MarshalJSON() ([]byte, error) {
	type alias StructuralTemplate
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindStructural, (*alias)(st)})
}

func (rt *ReorderTemplate) MarshalJSON() ([]byte, error) {
	type alias ReorderTemplate
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindReorder, (*alias)(rt)})
}

// Unmarshal decodes and validates a template from its wire form
func Unmarshal(data []byte) (Template, error) {
	var envelope struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}

	var t Template
	switch envelope.Type {
	case KindPatches:
		t = &PatchSet{}
	case KindLoop:
		t = &LoopTemplate{}
	case KindStructural:
		t = &StructuralTemplate{}
	case KindReorder:
		t = &ReorderTemplate{}
	default:
		return nil, fmt.Errorf("unknown template type %q", envelope.Type)
	}

	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode %s template: %w", envelope.Type, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s template: %w", envelope.Type, err)
	}
	return t, nil
}

// Validate checks slots, bindings and transforms
func (tp *TemplatePatch) Validate() error {
	for _, b := range tp.Bindings {
		if b.StateKey == "" {
			return fmt.Errorf("binding without state key")
		}
		if b.Transform != "" && !IsTransform(b.Transform) {
			return fmt.Errorf("%w: %q", ErrMalformedTransform, b.Transform)
		}
	}
	if tp.IsConditional() {
		if tp.ConditionalBindingIndex < 0 || tp.ConditionalBindingIndex >= len(tp.Bindings) {
			return fmt.Errorf("conditional binding index %d out of range", tp.ConditionalBindingIndex)
		}
		if len(tp.Bindings) == 1 {
			return nil
		}
		for key, entry := range tp.ConditionalTemplates {
			if _, err := Format(entry, make([]string, len(tp.Bindings))); err != nil {
				return fmt.Errorf("conditional entry %q: %w", key, err)
			}
		}
		return nil
	}
	_, err := Format(tp.Template, make([]string, len(tp.Bindings)))
	return err
}

func (ps *PatchSet) Validate() error {
	for i := range ps.Patches {
		p := &ps.Patches[i]
		switch p.Op {
		case tree.OpSetText:
		case tree.OpSetAttribute:
			if p.Name == "" {
				return fmt.Errorf("patch %d: attribute template without name", i)
			}
		default:
			return fmt.Errorf("patch %d: %s cannot be templated", i, p.Op)
		}
		if err := p.Value.Validate(); err != nil {
			return fmt.Errorf("patch %d: %w", i, err)
		}
	}
	return nil
}

func (lt *LoopTemplate) Validate() error {
	if lt.ArrayBinding == "" {
		return fmt.Errorf("loop template without array binding")
	}
	if lt.Offset < 0 {
		return fmt.Errorf("negative loop offset %d", lt.Offset)
	}
	if lt.Item == nil {
		return fmt.Errorf("loop template without item template")
	}
	return lt.Item.Validate()
}

func (st *StructuralTemplate) Validate() error {
	if st.ConditionBinding == "" {
		return fmt.Errorf("structural template without condition binding")
	}
	if st.Index < tree.Root {
		return fmt.Errorf("invalid structural index %d", st.Index)
	}
	if st.Index == tree.Root {
		for k, n := range st.Branches {
			if n == nil {
				return fmt.Errorf("branch %q: the node at a path cannot be absent", k)
			}
		}
	}
	return nil
}

func (rt *ReorderTemplate) Validate() error {
	if rt.ArrayBinding == "" {
		return fmt.Errorf("reorder template without array binding")
	}
	if rt.Offset < 0 || rt.Trailing < 0 {
		return fmt.Errorf("invalid reorder bounds %d/%d", rt.Offset, rt.Trailing)
	}
	switch rt.Order.Kind {
	case SortAsc, SortDesc, Reverse:
	case Filter:
		if _, err := compilePredicate(rt.Order.Predicate); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown ordering %q", rt.Order.Kind)
	}
	return nil
}
