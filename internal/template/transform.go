package template

import (
	"fmt"
	"math"
	"math/big"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/livefir/livepredict/internal/value"
)

type transformFunc func(value.Value) (string, bool)

type transform struct {
	name  string
	apply transformFunc
}

// whitelist holds every transform a binding may name, in the priority
// order extraction tries them: fixed-decimal formatting, then scaling,
// then case changes.
var whitelist = []transform{
	{"toFixed(0)", toFixed(0)},
	{"toFixed(1)", toFixed(1)},
	{"toFixed(2)", toFixed(2)},
	{"toFixed(3)", toFixed(3)},
	{"toFixed(4)", toFixed(4)},
	{"times(100)", times(100)},
	{"times(1000)", times(1000)},
	{"toUpperCase", caseChange(func() cases.Caser { return cases.Upper(language.Und) })},
	{"toLowerCase", caseChange(func() cases.Caser { return cases.Lower(language.Und) })},
	{"titleCase", caseChange(func() cases.Caser { return cases.Title(language.Und) })},
}

var transformsByName = func() map[string]transformFunc {
	m := make(map[string]transformFunc, len(whitelist))
	for _, t := range whitelist {
		m[t.name] = t.apply
	}
	return m
}()

// Transforms returns the whitelisted transform names in priority order
func Transforms() []string {
	names := make([]string, len(whitelist))
	for i, t := range whitelist {
		names[i] = t.name
	}
	return names
}

// IsTransform reports whether name is whitelisted
func IsTransform(name string) bool {
	_, ok := transformsByName[name]
	return ok
}

// ApplyTransform formats v through the named transform. The empty name
// is the identity (the value's display string).
func ApplyTransform(name string, v value.Value) (string, error) {
	if name == "" {
		return v.String(), nil
	}
	fn, ok := transformsByName[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMalformedTransform, name)
	}
	out, ok := fn(v)
	if !ok {
		return "", fmt.Errorf("transform %s does not apply to %s", name, v.Kind())
	}
	return out, nil
}

func toFixed(digits int) transformFunc {
	return func(v value.Value) (string, bool) {
		if v.Kind() != value.KindNumber {
			return "", false
		}
		// exact binary value, halves rounded away from zero
		r := new(big.Rat).SetFloat64(v.Float())
		if r == nil {
			return "", false
		}
		return r.FloatString(digits), true
	}
}

func times(factor float64) transformFunc {
	return func(v value.Value) (string, bool) {
		if v.Kind() != value.KindNumber {
			return "", false
		}
		scaled := math.Round(v.Float()*factor*1e10) / 1e10
		return value.FormatNumber(scaled), true
	}
}

// caseChange builds a fresh Caser per call since Casers are stateful
func caseChange(newCaser func() cases.Caser) transformFunc {
	return func(v value.Value) (string, bool) {
		if v.Kind() != value.KindString {
			return "", false
		}
		return newCaser().String(v.Text()), true
	}
}
