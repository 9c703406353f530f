// Package extract infers templates from observed (state change, patch
// set) pairs. Extraction degrades gracefully: when the evidence is
// ambiguous or insufficient it returns an error and the caller keeps
// using the authoritative diff.
package extract

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/livefir/livepredict/internal/diff"
	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// Rule names, reported with every result and used as metric labels
const (
	RuleNoop         = "noop"
	RuleSubstring    = "substring"
	RuleConditional  = "conditional"
	RuleMultiBinding = "multi_binding"
	RuleTransform    = "transform"
	RuleLoopFastPath = "loop_fast_path"
	RuleLoopDiff     = "loop_diff"
	RuleStructural   = "structural"
	RuleReorder      = "reorder"
	RuleFilter       = "filter"
)

// Observation is one authoritative sample: a change, the state before
// it, the trees before and after, and the reconciler's patches
type Observation struct {
	Change  state.Change
	State   value.Value
	OldTree *tree.Node
	NewTree *tree.Node
	// Patches is diff.Diff(OldTree, NewTree); computed when nil
	Patches []tree.Patch
	// Prior is the template currently stored for the change, if any
	Prior template.Template
}

// Result is an extracted template
type Result struct {
	Template template.Template
	Rule     string
	// Derived marks loop templates inferred by comparing whole arrays
	// rather than from a caller-supplied array operation
	Derived bool
}

// Config tunes the heuristics
type Config struct {
	// MaxEnumLength is the longest string treated as an enum value when
	// no schema declares the field
	MaxEnumLength int
	// MaxFlattenValues caps the state leaves considered by the
	// multi-binding and transform rules
	MaxFlattenValues int
	// Transforms lists the transforms tried, in priority order
	Transforms []string
	// Schema optionally declares field kinds and enum sets
	Schema *value.Schema
}

// DefaultConfig returns the default extraction settings
func DefaultConfig() Config {
	return Config{
		MaxEnumLength:    32,
		MaxFlattenValues: 512,
		Transforms:       template.Transforms(),
	}
}

// Extractor turns observations into templates. It holds no per-subject
// state and is safe for concurrent use.
type Extractor struct {
	config     Config
	classifier *diff.PatternClassifier
}

// New creates an extractor
func New(config Config) *Extractor {
	if config.MaxEnumLength <= 0 {
		config.MaxEnumLength = DefaultConfig().MaxEnumLength
	}
	if config.MaxFlattenValues <= 0 {
		config.MaxFlattenValues = DefaultConfig().MaxFlattenValues
	}
	if config.Transforms == nil {
		config.Transforms = template.Transforms()
	}
	return &Extractor{config: config, classifier: diff.NewPatternClassifier()}
}

// WithSchema returns a copy of the extractor consulting schema
func (e *Extractor) WithSchema(schema *value.Schema) *Extractor {
	c := e.config
	c.Schema = schema
	return &Extractor{config: c, classifier: e.classifier}
}

// observation is an Observation with its scopes resolved
type observation struct {
	Observation
	key      string
	prev     value.Value
	next     value.Value
	oldScope value.Value
	newScope value.Value
	patches  []tree.Patch
}

// Extract infers a template from one observation
func (e *Extractor) Extract(obs Observation) (*Result, error) {
	o, err := e.prepare(obs)
	if err != nil {
		return nil, &template.ExtractionError{Rule: "input", Err: err}
	}

	if o.Change.ArrayOp != nil {
		return e.extractLoop(o, o.Change.ArrayOp, false)
	}

	c := e.classifier.Classify(o.patches)
	switch c.Pattern {
	case diff.PatternNone:
		return &Result{Template: &template.PatchSet{Patches: []template.PatchTemplate{}}, Rule: RuleNoop}, nil

	case diff.PatternText, diff.PatternAttribute:
		if isArray(o.prev) && isArray(o.next) {
			if op, ok := state.DeriveArrayOp(o.prev, o.next); ok && op.Kind == state.OpUpdateAt {
				if res, err := e.extractLoop(o, op, true); err == nil {
					return res, nil
				}
			}
		}
		return e.extractContent(o)

	case diff.PatternReorder:
		return e.extractReorder(o)

	case diff.PatternRemoval:
		if len(o.patches) > 1 && isArray(o.prev) {
			if res, err := e.extractFilter(o); err == nil {
				return res, nil
			}
		}
		fallthrough

	case diff.PatternStructural:
		if isArray(o.prev) || isArray(o.next) {
			op, ok := state.DeriveArrayOp(o.prev, o.next)
			if !ok {
				return nil, &template.ExtractionError{Rule: RuleLoopDiff, Err: fmt.Errorf("%w: arrays differ by more than one item", template.ErrUnsupported)}
			}
			return e.extractLoop(o, op, true)
		}
		return e.extractStructural(o)
	}

	return nil, &template.ExtractionError{Rule: "classify", Err: fmt.Errorf("%w: %s", template.ErrUnsupported, c.Reason)}
}

func (e *Extractor) prepare(obs Observation) (*observation, error) {
	c := obs.Change
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrUnsupported, err)
	}
	if obs.OldTree == nil || obs.NewTree == nil {
		return nil, fmt.Errorf("%w: observation without trees", template.ErrUnsupported)
	}
	next, err := c.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrUnsupported, err)
	}
	for _, v := range []value.Value{c.OldValue, next} {
		if err := e.config.Schema.Check(c.StateKey, v); err != nil {
			return nil, fmt.Errorf("%w: %v", template.ErrUnsupported, err)
		}
	}

	base := obs.State
	if base.IsNull() {
		base = value.Object()
	}
	oldScope, err := value.Set(base, c.StateKey, c.OldValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrUnsupported, err)
	}
	newScope, err := value.Set(oldScope, c.StateKey, next)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", template.ErrUnsupported, err)
	}

	patches := obs.Patches
	if patches == nil {
		patches = diff.Diff(obs.OldTree, obs.NewTree)
	}

	return &observation{
		Observation: obs,
		key:         c.StateKey,
		prev:        c.OldValue,
		next:        next,
		oldScope:    oldScope,
		newScope:    newScope,
		patches:     patches,
	}, nil
}

// isEnumLike reports whether v at path can key a conditional literal map
func (e *Extractor) isEnumLike(path string, v value.Value) bool {
	switch v.Kind() {
	case value.KindBool, value.KindNull:
		return true
	case value.KindString:
		if e.config.Schema != nil {
			if _, declared := e.config.Schema.Field(path); declared {
				return e.config.Schema.IsEnum(path)
			}
		}
		s := v.Text()
		return s != "" && len(s) <= e.config.MaxEnumLength && strings.IndexFunc(s, unicode.IsSpace) < 0
	}
	return false
}

func isArray(v value.Value) bool {
	return v.Kind() == value.KindArray
}

func unsupported(rule string, path []int, format string, args ...any) error {
	return &template.ExtractionError{
		Rule: rule,
		Path: path,
		Err:  fmt.Errorf("%w: %s", template.ErrUnsupported, fmt.Sprintf(format, args...)),
	}
}
