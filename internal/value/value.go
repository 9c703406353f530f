package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name
func (k *Kind) UnmarshalText(text []byte) error {
	for candidate := KindNull; candidate <= KindObject; candidate++ {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown value kind %q", text)
}

// Value is an immutable state value. The zero Value is Null.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	items  []Value
	fields []Field
}

// Field is one ordered member of an object Value
type Field struct {
	Key   string
	Value Value
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }

// Int wraps an integer as a Number
func Int(i int) Value { return Value{kind: KindNumber, n: float64(i)} }

// String wraps a string
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array builds an array value from items
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Object builds an object value; field order is preserved
func Object(fields ...Field) Value {
	if fields == nil {
		fields = []Field{}
	}
	return Value{kind: KindObject, fields: fields}
}

// F is shorthand for a Field
func F(key string, v Value) Field { return Field{Key: key, Value: v} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Bool() bool     { return v.b }
func (v Value) Float() float64 { return v.n }

// Text returns the raw string of a String value and "" for other kinds
func (v Value) Text() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// IsPrimitive reports whether v is not an array or object
func (v Value) IsPrimitive() bool {
	return v.kind != KindArray && v.kind != KindObject
}

// Len returns the number of items or fields
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.fields)
	}
	return 0
}

// Index returns the i-th array item, or Null when out of range
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.items) {
		return Value{}
	}
	return v.items[i]
}

// Items returns the array items. Callers must not modify the slice.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Fields returns the object fields in order. Callers must not modify the slice.
func (v Value) Fields() []Field {
	if v.kind != KindObject {
		return nil
	}
	return v.fields
}

// Get returns the named object field
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Keys returns object keys in order
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.fields))
	for _, f := range v.fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// With returns a copy of the object with key set to nv. A non-object
// receiver is treated as an empty object.
func (v Value) With(key string, nv Value) Value {
	fields := make([]Field, 0, len(v.fields)+1)
	replaced := false
	if v.kind == KindObject {
		for _, f := range v.fields {
			if f.Key == key {
				fields = append(fields, Field{Key: key, Value: nv})
				replaced = true
				continue
			}
			fields = append(fields, f)
		}
	}
	if !replaced {
		fields = append(fields, Field{Key: key, Value: nv})
	}
	return Value{kind: KindObject, fields: fields}
}

// String renders the value the way a template slot displays it:
// numbers use the shortest round-trip form, arrays join with commas,
// null renders as "null".
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return FormatNumber(v.n)
	case KindString:
		return v.s
	case KindArray:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			if item.kind == KindNull {
				continue
			}
			parts[i] = item.String()
		}
		return strings.Join(parts, ",")
	case KindObject:
		data, err := v.MarshalJSON()
		if err != nil {
			return "{}"
		}
		return string(data)
	}
	return ""
}

// FormatNumber formats f the way JavaScript's Number#toString does
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Equal reports deep equality. Object field order is ignored.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for _, f := range v.fields {
			other, ok := o.Get(f.Key)
			if !ok || !f.Value.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values: first by kind, then by content.
// Arrays and objects compare by length.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindNumber:
		switch {
		case a.n < b.n:
			return -1
		case a.n > b.n:
			return 1
		}
		return 0
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindArray, KindObject:
		switch {
		case a.Len() < b.Len():
			return -1
		case a.Len() > b.Len():
			return 1
		}
	}
	return 0
}
