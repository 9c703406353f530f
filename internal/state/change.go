// Package state describes state changes as they arrive from a host's
// state layer: a single key's old and new value plus an optional semantic
// description of an array mutation.
package state

import (
	"fmt"

	"github.com/livefir/livepredict/internal/value"
)

// ArrayOpKind identifies an array mutation
type ArrayOpKind uint8

const (
	OpAppend ArrayOpKind = iota + 1
	OpPrepend
	OpInsertAt
	OpRemoveAt
	OpUpdateAt
)

var arrayOpNames = map[ArrayOpKind]string{
	OpAppend:   "append",
	OpPrepend:  "prepend",
	OpInsertAt: "insertAt",
	OpRemoveAt: "removeAt",
	OpUpdateAt: "updateAt",
}

func (k ArrayOpKind) String() string {
	if name, ok := arrayOpNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ArrayOpKind(%d)", k)
}

// MarshalText encodes the kind by name
func (k ArrayOpKind) MarshalText() ([]byte, error) {
	if _, ok := arrayOpNames[k]; !ok {
		return nil, fmt.Errorf("unknown array op kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name
func (k *ArrayOpKind) UnmarshalText(text []byte) error {
	for kind, name := range arrayOpNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown array op %q", text)
}

// ArrayOp is a caller-supplied description of how an array changed.
// Index is meaningful for InsertAt, RemoveAt and UpdateAt; Item for every
// kind except RemoveAt.
type ArrayOp struct {
	Kind  ArrayOpKind `json:"type"`
	Index int         `json:"index,omitempty"`
	Item  value.Value `json:"item"`
}

func Append(item value.Value) *ArrayOp  { return &ArrayOp{Kind: OpAppend, Item: item} }
func Prepend(item value.Value) *ArrayOp { return &ArrayOp{Kind: OpPrepend, Item: item} }
func RemoveAt(index int) *ArrayOp       { return &ArrayOp{Kind: OpRemoveAt, Index: index} }

func InsertAt(index int, item value.Value) *ArrayOp {
	return &ArrayOp{Kind: OpInsertAt, Index: index, Item: item}
}

func UpdateAt(index int, item value.Value) *ArrayOp {
	return &ArrayOp{Kind: OpUpdateAt, Index: index, Item: item}
}

// HasItem reports whether the op carries an item
func (op *ArrayOp) HasItem() bool {
	return op.Kind != OpRemoveAt
}

// IsInsert reports whether the op adds an item
func (op *ArrayOp) IsInsert() bool {
	return op.Kind == OpAppend || op.Kind == OpPrepend || op.Kind == OpInsertAt
}

// Position resolves the array index the op touches for an array that had
// n items before the change
func (op *ArrayOp) Position(n int) (int, error) {
	switch op.Kind {
	case OpAppend:
		return n, nil
	case OpPrepend:
		return 0, nil
	case OpInsertAt:
		if op.Index < 0 || op.Index > n {
			return 0, fmt.Errorf("insertAt %d: out of range for %d items", op.Index, n)
		}
		return op.Index, nil
	case OpRemoveAt, OpUpdateAt:
		if op.Index < 0 || op.Index >= n {
			return 0, fmt.Errorf("%s %d: out of range for %d items", op.Kind, op.Index, n)
		}
		return op.Index, nil
	}
	return 0, fmt.Errorf("unknown array op kind %d", op.Kind)
}

// Apply returns the array after the op. A null array is treated as empty.
func (op *ArrayOp) Apply(arr value.Value) (value.Value, error) {
	if !arr.IsNull() && arr.Kind() != value.KindArray {
		return value.Value{}, fmt.Errorf("%s: target is %s, not array", op.Kind, arr.Kind())
	}
	items := arr.Items()
	at, err := op.Position(len(items))
	if err != nil {
		return value.Value{}, err
	}

	out := make([]value.Value, 0, len(items)+1)
	switch {
	case op.IsInsert():
		out = append(out, items[:at]...)
		out = append(out, op.Item)
		out = append(out, items[at:]...)
	case op.Kind == OpRemoveAt:
		out = append(out, items[:at]...)
		out = append(out, items[at+1:]...)
	default:
		out = append(out, items...)
		out[at] = op.Item
	}
	return value.Array(out...), nil
}

func (op *ArrayOp) String() string {
	switch op.Kind {
	case OpAppend, OpPrepend:
		return fmt.Sprintf("%s(%s)", op.Kind, op.Item)
	case OpRemoveAt:
		return fmt.Sprintf("removeAt(%d)", op.Index)
	}
	return fmt.Sprintf("%s(%d, %s)", op.Kind, op.Index, op.Item)
}

// Change is one state change: the unit of template lookup and extraction
type Change struct {
	SubjectID string      `json:"subject_id"`
	StateKey  string      `json:"state_key"`
	OldValue  value.Value `json:"old_value"`
	NewValue  value.Value `json:"new_value"`
	ArrayOp   *ArrayOp    `json:"array_op,omitempty"`
}

// Validate checks that the change is well-formed. When an array op is
// present the old value must be an array (or null) the op applies to.
func (c Change) Validate() error {
	if c.StateKey == "" {
		return fmt.Errorf("state change without state key")
	}
	if c.ArrayOp == nil {
		return nil
	}
	if _, err := c.ArrayOp.Apply(c.OldValue); err != nil {
		return fmt.Errorf("state key %s: %w", c.StateKey, err)
	}
	return nil
}

// Next returns the new value, computing it from the array op when the
// caller left it out
func (c Change) Next() (value.Value, error) {
	if c.ArrayOp != nil && c.NewValue.IsNull() {
		return c.ArrayOp.Apply(c.OldValue)
	}
	return c.NewValue, nil
}

// Normalize fills in NewValue from the array op when missing
func (c Change) Normalize() (Change, error) {
	next, err := c.Next()
	if err != nil {
		return c, err
	}
	c.NewValue = next
	return c, nil
}

// Scope returns the state after the change: state with StateKey set to
// the new value. A null state is treated as an empty object.
func (c Change) Scope(state value.Value) (value.Value, error) {
	next, err := c.Next()
	if err != nil {
		return value.Value{}, err
	}
	return value.Set(state, c.StateKey, next)
}
