package template

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/livefir/livepredict/internal/value"
)

// Binding names a template slot's input: a dot path into the scope plus
// an optional whitelisted transform
type Binding struct {
	StateKey  string `json:"state_key"`
	Transform string `json:"transform,omitempty"`
}

// Render resolves the binding against scope
func (b Binding) Render(scope value.Value) (string, error) {
	v, ok := value.Lookup(scope, b.StateKey)
	if !ok {
		return "", fmt.Errorf("%w: binding %s is not in scope", ErrPredictionMiss, b.StateKey)
	}
	return ApplyTransform(b.Transform, v)
}

func (b Binding) String() string {
	if b.Transform == "" {
		return b.StateKey
	}
	return b.StateKey + "|" + b.Transform
}

// TemplatePatch is a parameterized string: a template with positional
// slots {0}, {1}, ... filled from Bindings, or, when
// ConditionalTemplates is set, an entry chosen by the display value of
// Bindings[ConditionalBindingIndex]. An entry of a conditional over one
// binding is a plain literal; with more bindings it is itself a template
// whose slots are filled like an unconditional one. Literal braces in
// templates are doubled.
type TemplatePatch struct {
	Template                string            `json:"template,omitempty"`
	Bindings                []Binding         `json:"bindings"`
	ConditionalTemplates    map[string]string `json:"conditional_templates,omitempty"`
	ConditionalBindingIndex int               `json:"conditional_binding_index,omitempty"`
}

// Literal returns a template with no slots
func Literal(s string) TemplatePatch {
	return TemplatePatch{Template: Escape(s), Bindings: []Binding{}}
}

// Conditional returns a conditional template over one binding
func Conditional(b Binding, literals map[string]string) TemplatePatch {
	return TemplatePatch{Bindings: []Binding{b}, ConditionalTemplates: literals}
}

// IsConditional reports whether the template selects whole literals
func (tp *TemplatePatch) IsConditional() bool {
	return tp.ConditionalTemplates != nil
}

// ConditionKey returns the display value of the conditional binding
func (tp *TemplatePatch) ConditionKey(scope value.Value) (string, error) {
	if tp.ConditionalBindingIndex < 0 || tp.ConditionalBindingIndex >= len(tp.Bindings) {
		return "", fmt.Errorf("conditional binding index %d out of range", tp.ConditionalBindingIndex)
	}
	return tp.Bindings[tp.ConditionalBindingIndex].Render(scope)
}

// Render materializes the template against scope. A conditional
// template whose key has not been observed yields ErrPredictionMiss.
func (tp *TemplatePatch) Render(scope value.Value) (string, error) {
	tmpl := tp.Template
	if tp.IsConditional() {
		key, err := tp.ConditionKey(scope)
		if err != nil {
			return "", err
		}
		entry, ok := tp.ConditionalTemplates[key]
		if !ok {
			return "", fmt.Errorf("%w: no literal for %s=%s", ErrPredictionMiss, tp.Bindings[tp.ConditionalBindingIndex].StateKey, key)
		}
		if len(tp.Bindings) == 1 {
			return entry, nil
		}
		tmpl = entry
	}

	values := make([]string, len(tp.Bindings))
	for i, b := range tp.Bindings {
		s, err := b.Render(scope)
		if err != nil {
			return "", err
		}
		values[i] = s
	}
	return Format(tmpl, values)
}

// Escape doubles the braces of a literal so it can be embedded in a template
func Escape(s string) string {
	if !strings.ContainsAny(s, "{}") {
		return s
	}
	s = strings.ReplaceAll(s, "{", "{{")
	return strings.ReplaceAll(s, "}", "}}")
}

// Format fills the slots of a template
func Format(tmpl string, values []string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				sb.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated slot at offset %d", i)
			}
			n, err := strconv.Atoi(tmpl[i+1 : i+end])
			if err != nil || n < 0 {
				return "", fmt.Errorf("invalid slot %q at offset %d", tmpl[i:i+end+1], i)
			}
			if n >= len(values) {
				return "", fmt.Errorf("slot {%d} has no binding", n)
			}
			sb.WriteString(values[n])
			i += end
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				sb.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("unmatched } at offset %d", i)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

// merge adds the entries of other to a copy of tp. Both must be
// conditional on the same binding and fill the same slots.
func (tp TemplatePatch) merge(other TemplatePatch) (TemplatePatch, bool) {
	if !tp.IsConditional() || !other.IsConditional() ||
		tp.ConditionalBindingIndex != other.ConditionalBindingIndex ||
		!slices.Equal(tp.Bindings, other.Bindings) {
		return tp, false
	}
	merged := make(map[string]string, len(tp.ConditionalTemplates)+len(other.ConditionalTemplates))
	for k, v := range tp.ConditionalTemplates {
		merged[k] = v
	}
	for k, v := range other.ConditionalTemplates {
		if prev, ok := merged[k]; ok && prev != v {
			return tp, false
		}
		merged[k] = v
	}
	tp.ConditionalTemplates = merged
	return tp, true
}
