package extract

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// extractContent generalizes a set of SetText and attribute patches.
// Every patch must generalize for the set to be accepted.
func (e *Extractor) extractContent(o *observation) (*Result, error) {
	set := &template.PatchSet{Patches: make([]template.PatchTemplate, 0, len(o.patches))}
	var rules []string

	for _, p := range o.patches {
		node, err := o.OldTree.At(p.Path)
		if err != nil {
			return nil, unsupported("content", p.Path, "patch target missing from old tree: %v", err)
		}

		var pt template.PatchTemplate
		var rule string
		switch p.Op {
		case tree.OpSetText:
			if !node.IsText() {
				return nil, unsupported("content", p.Path, "setText on %s node", node.Kind)
			}
			tp, r, err := e.extractText(o, node.Text, p.Value)
			if err != nil {
				return nil, &template.ExtractionError{Rule: "text", Path: p.Path, Err: err}
			}
			pt, rule = template.PatchTemplate{Op: tree.OpSetText, Path: p.Path, Value: tp}, r

		case tree.OpSetAttribute, tree.OpRemoveAttribute:
			pt, rule, err = e.extractAttribute(o, node, p)
			if err != nil {
				return nil, &template.ExtractionError{Rule: "attribute", Path: p.Path, Err: err}
			}
		}

		set.Patches = append(set.Patches, pt)
		if !slices.Contains(rules, rule) {
			rules = append(rules, rule)
		}
	}
	return &Result{Template: set, Rule: strings.Join(rules, "+")}, nil
}

func (e *Extractor) extractAttribute(o *observation, node *tree.Node, p tree.Patch) (template.PatchTemplate, string, error) {
	pt := template.PatchTemplate{Op: tree.OpSetAttribute, Path: p.Path, Name: p.Name}
	oldValue, had := node.Attr(p.Name)

	if p.Op == tree.OpSetAttribute && had {
		tp, rule, err := e.extractText(o, oldValue, p.Value)
		if err != nil {
			return pt, "", err
		}
		pt.Value = tp
		return pt, rule, nil
	}

	// The attribute appears or disappears: only a condition can say when
	if !e.isEnumLike(o.key, o.prev) || !e.isEnumLike(o.key, o.next) || o.prev.String() == o.next.String() {
		return pt, "", fmt.Errorf("%w: attribute %s toggled by a non-enum value", template.ErrUnsupported, p.Name)
	}
	binding := template.Binding{StateKey: o.key}
	if p.Op == tree.OpSetAttribute {
		pt.Value = template.Conditional(binding, map[string]string{o.next.String(): p.Value})
		pt.Absent = []string{o.prev.String()}
	} else {
		pt.Value = template.Conditional(binding, map[string]string{o.prev.String(): oldValue})
		pt.Absent = []string{o.next.String()}
	}
	return pt, RuleConditional, nil
}

// extractText tries, in order: the unique substring of the changed
// value, a conditional literal map, a multi-binding template over the
// flattened state, and a whitelisted transform.
func (e *Extractor) extractText(o *observation, oldText, newText string) (template.TemplatePatch, string, error) {
	var failures []error

	tp, err := e.substring(o, oldText, newText)
	if err == nil {
		return tp, RuleSubstring, nil
	}
	failures = append(failures, err)

	if e.isEnumLike(o.key, o.prev) && e.isEnumLike(o.key, o.next) && o.prev.String() != o.next.String() {
		tp := template.Conditional(template.Binding{StateKey: o.key}, map[string]string{
			o.prev.String(): oldText,
			o.next.String(): newText,
		})
		return tp, RuleConditional, nil
	}

	pairs := e.flatten(o.oldScope)

	tp, err = multiBinding(pairs, oldText)
	if err == nil {
		err = verify(tp, o, oldText, newText)
	}
	if err == nil {
		return tp, RuleMultiBinding, nil
	}
	failures = append(failures, err)

	tp, err = e.transform(o, pairs, oldText, newText)
	if err == nil {
		return tp, RuleTransform, nil
	}
	failures = append(failures, err)

	return template.TemplatePatch{}, "", strongest(failures)
}

// substring is rule 1: the changed value's display string occurs exactly
// once in the old text
func (e *Extractor) substring(o *observation, oldText, newText string) (template.TemplatePatch, error) {
	if !o.prev.IsPrimitive() {
		return template.TemplatePatch{}, fmt.Errorf("%w: %s is a %s", template.ErrUnsupported, o.key, o.prev.Kind())
	}
	needle := o.prev.String()
	if needle == "" {
		return template.TemplatePatch{}, fmt.Errorf("%w: empty value", template.ErrUnsupported)
	}
	tp, err := single(oldText, needle, template.Binding{StateKey: o.key})
	if err != nil {
		return tp, err
	}
	return tp, verify(tp, o, oldText, newText)
}

// transform is rule 4: try each candidate binding through each
// whitelisted transform and accept the first that verifies both ways
func (e *Extractor) transform(o *observation, pairs []value.Pair, oldText, newText string) (template.TemplatePatch, error) {
	candidates := make([]string, 0, len(pairs)+1)
	if o.prev.IsPrimitive() {
		candidates = append(candidates, o.key)
	}
	for _, p := range pairs {
		if p.Path != o.key {
			candidates = append(candidates, p.Path)
		}
	}

	var failures []error
	for _, path := range candidates {
		v, ok := value.Lookup(o.oldScope, path)
		if !ok {
			continue
		}
		for _, name := range e.config.Transforms {
			shown, err := template.ApplyTransform(name, v)
			if err != nil {
				if errors.Is(err, template.ErrMalformedTransform) {
					failures = append(failures, err)
				}
				continue
			}
			if shown == "" {
				continue
			}
			tp, err := single(oldText, shown, template.Binding{StateKey: path, Transform: name})
			if err != nil {
				continue
			}
			if err := verify(tp, o, oldText, newText); err != nil {
				failures = append(failures, err)
				continue
			}
			return tp, nil
		}
	}
	if len(failures) == 0 {
		return template.TemplatePatch{}, fmt.Errorf("%w: no transform matches", template.ErrUnsupported)
	}
	return template.TemplatePatch{}, strongest(failures)
}

// single builds a one-slot template around the unique occurrence of needle
func single(text, needle string, b template.Binding) (template.TemplatePatch, error) {
	switch strings.Count(text, needle) {
	case 0:
		return template.TemplatePatch{}, fmt.Errorf("%w: %q not found", template.ErrUnsupported, needle)
	case 1:
	default:
		return template.TemplatePatch{}, fmt.Errorf("%w: %q occurs more than once", template.ErrExtractionAmbiguous, needle)
	}
	i := strings.Index(text, needle)
	return template.TemplatePatch{
		Template: template.Escape(text[:i]) + "{0}" + template.Escape(text[i+len(needle):]),
		Bindings: []template.Binding{b},
	}, nil
}

// verify renders a candidate with the old and the new scope
func verify(tp template.TemplatePatch, o *observation, oldText, newText string) error {
	got, err := tp.Render(o.oldScope)
	if err != nil || got != oldText {
		return fmt.Errorf("%w: %q does not reproduce %q", template.ErrExtractionUnverified, tp.Template, oldText)
	}
	got, err = tp.Render(o.newScope)
	if err != nil || got != newText {
		return fmt.Errorf("%w: %q renders %q, observed %q", template.ErrExtractionUnverified, tp.Template, got, newText)
	}
	return nil
}

func (e *Extractor) flatten(scope value.Value) []value.Pair {
	pairs := value.Flatten(scope)
	if len(pairs) > e.config.MaxFlattenValues {
		pairs = pairs[:e.config.MaxFlattenValues]
	}
	return pairs
}

type match struct {
	start, end int
	path       string
}

// multiBinding is rule 3: locate every flattened leaf's display string in
// text. Matches inside a longer match are dropped; any remaining overlap
// or a leaf matching twice is ambiguous.
func multiBinding(pairs []value.Pair, text string) (template.TemplatePatch, error) {
	var matches []match
	for _, p := range pairs {
		s := p.Value.String()
		if s == "" {
			continue
		}
		for from := 0; from <= len(text)-len(s); {
			i := strings.Index(text[from:], s)
			if i < 0 {
				break
			}
			matches = append(matches, match{start: from + i, end: from + i + len(s), path: p.Path})
			from += i + 1
		}
	}
	if len(matches) == 0 {
		return template.TemplatePatch{}, fmt.Errorf("%w: no state value occurs in %q", template.ErrUnsupported, text)
	}

	kept := matches[:0:0]
	for _, m := range matches {
		if !containedInLonger(m, matches) {
			kept = append(kept, m)
		}
	}
	slices.SortFunc(kept, func(a, b match) int { return a.start - b.start })

	seen := make(map[string]bool, len(kept))
	for i, m := range kept {
		if seen[m.path] {
			return template.TemplatePatch{}, fmt.Errorf("%w: %s occurs more than once", template.ErrExtractionAmbiguous, m.path)
		}
		seen[m.path] = true
		if i > 0 && kept[i-1].end > m.start {
			return template.TemplatePatch{}, fmt.Errorf("%w: %s overlaps %s", template.ErrExtractionAmbiguous, m.path, kept[i-1].path)
		}
	}

	var sb strings.Builder
	bindings := make([]template.Binding, 0, len(kept))
	last := 0
	for i, m := range kept {
		sb.WriteString(template.Escape(text[last:m.start]))
		fmt.Fprintf(&sb, "{%d}", i)
		bindings = append(bindings, template.Binding{StateKey: m.path})
		last = m.end
	}
	sb.WriteString(template.Escape(text[last:]))
	return template.TemplatePatch{Template: sb.String(), Bindings: bindings}, nil
}

func containedInLonger(m match, all []match) bool {
	for _, o := range all {
		if o.end-o.start > m.end-m.start && o.start <= m.start && m.end <= o.end {
			return true
		}
	}
	return false
}

// strongest picks the most specific failure: ambiguity, then failed
// verification, then a malformed transform, then anything else
func strongest(errs []error) error {
	for _, kind := range []error{template.ErrExtractionAmbiguous, template.ErrExtractionUnverified, template.ErrMalformedTransform} {
		for _, err := range errs {
			if errors.Is(err, kind) {
				return err
			}
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return template.ErrUnsupported
}
