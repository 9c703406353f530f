package template

import (
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/livefir/livepredict/internal/value"
)

// OrderKind is one of the closed set of ordering expressions
type OrderKind string

const (
	SortAsc  OrderKind = "sortAsc"
	SortDesc OrderKind = "sortDesc"
	Reverse  OrderKind = "reverse"
	Filter   OrderKind = "filter"
)

// Ordering is a reorder or filter expression over array items. Field is
// a dot path inside each item; empty sorts primitive items by value.
// Predicate is an expr-lang boolean over `item` selecting the items kept.
type Ordering struct {
	Kind      OrderKind `json:"kind"`
	Field     string    `json:"field,omitempty"`
	Predicate string    `json:"predicate,omitempty"`
}

func (o Ordering) String() string {
	switch o.Kind {
	case SortAsc, SortDesc:
		if o.Field == "" {
			return string(o.Kind)
		}
		return fmt.Sprintf("%s(%s)", o.Kind, o.Field)
	case Filter:
		return fmt.Sprintf("filter(%s)", o.Predicate)
	}
	return string(o.Kind)
}

// Permutation returns, for each new position, the old index of the item
// placed there. Sorts are stable.
func (o Ordering) Permutation(items []value.Value) ([]int, error) {
	perm := make([]int, len(items))
	for i := range perm {
		perm[i] = i
	}
	switch o.Kind {
	case Reverse:
		slices.Reverse(perm)
	case SortAsc, SortDesc:
		keys := make([]value.Value, len(items))
		for i, item := range items {
			keys[i] = o.sortKey(item)
		}
		slices.SortStableFunc(perm, func(a, b int) int {
			c := value.Compare(keys[a], keys[b])
			if o.Kind == SortDesc {
				return -c
			}
			return c
		})
	default:
		return nil, fmt.Errorf("%w: %s is not a reordering", ErrUnsupported, o.Kind)
	}
	return perm, nil
}

func (o Ordering) sortKey(item value.Value) value.Value {
	if o.Field == "" {
		return item
	}
	v, _ := value.Lookup(item, o.Field)
	return v
}

// Keep evaluates a filter predicate for each item
func (o Ordering) Keep(items []value.Value) ([]bool, error) {
	if o.Kind != Filter {
		return nil, fmt.Errorf("%w: %s is not a filter", ErrUnsupported, o.Kind)
	}
	program, err := compilePredicate(o.Predicate)
	if err != nil {
		return nil, err
	}
	keep := make([]bool, len(items))
	for i, item := range items {
		out, err := expr.Run(program, map[string]any{"item": item.ToAny()})
		if err != nil {
			return nil, fmt.Errorf("filter predicate on item %d: %w", i, err)
		}
		b, ok := out.(bool)
		if !ok {
			return nil, fmt.Errorf("filter predicate returned %T", out)
		}
		keep[i] = b
	}
	return keep, nil
}

// programs caches compiled predicates; templates are shared across
// subjects so the same predicate is evaluated many times
var programs sync.Map

func compilePredicate(src string) (*vm.Program, error) {
	if p, ok := programs.Load(src); ok {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter predicate %q: %w", src, err)
	}
	programs.Store(src, program)
	return program, nil
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FieldPredicate builds the predicate `item.<field> <op> <literal>`
func FieldPredicate(field, op string, literal value.Value) string {
	ref := "item"
	for _, seg := range value.Segments(field) {
		if identifier.MatchString(seg) {
			ref += "." + seg
		} else {
			ref += fmt.Sprintf("[%q]", seg)
		}
	}
	return fmt.Sprintf("%s %s %s", ref, op, exprLiteral(literal))
}

func exprLiteral(v value.Value) string {
	switch v.Kind() {
	case value.KindNull:
		return "nil"
	case value.KindString:
		return fmt.Sprintf("%q", v.Text())
	}
	return v.String()
}
