package value

import (
	"fmt"
	"sort"
)

// FieldSpec describes one state field of a subject type
type FieldSpec struct {
	Path string   `json:"path" yaml:"path"`
	Kind Kind     `json:"kind" yaml:"kind"`
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Schema is a static field table for a subject type. It replaces runtime
// inspection of host state types: hosts declare field kinds and enum sets
// once, and the extractor consults the table.
type Schema struct {
	fields map[string]FieldSpec
}

// NewSchema builds a schema from field specs
func NewSchema(specs ...FieldSpec) *Schema {
	s := &Schema{fields: make(map[string]FieldSpec, len(specs))}
	for _, spec := range specs {
		s.fields[spec.Path] = spec
	}
	return s
}

// Field returns the spec for a path
func (s *Schema) Field(path string) (FieldSpec, bool) {
	if s == nil {
		return FieldSpec{}, false
	}
	spec, ok := s.fields[path]
	return spec, ok
}

// IsEnum reports whether path is declared as a string enum
func (s *Schema) IsEnum(path string) bool {
	spec, ok := s.Field(path)
	return ok && spec.Kind == KindString && len(spec.Enum) > 0
}

// Paths returns the declared paths in sorted order
func (s *Schema) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.fields))
	for p := range s.fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Specs returns the declared fields in path order
func (s *Schema) Specs() []FieldSpec {
	paths := s.Paths()
	specs := make([]FieldSpec, len(paths))
	for i, p := range paths {
		specs[i] = s.fields[p]
	}
	return specs
}

// Check verifies v against the declared kind and enum set of path.
// Null is accepted for any field; undeclared paths always pass.
func (s *Schema) Check(path string, v Value) error {
	spec, ok := s.Field(path)
	if !ok || v.IsNull() {
		return nil
	}
	if spec.Kind != v.Kind() {
		return fmt.Errorf("field %s: expected %s, got %s", path, spec.Kind, v.Kind())
	}
	if len(spec.Enum) > 0 {
		for _, allowed := range spec.Enum {
			if allowed == v.Text() {
				return nil
			}
		}
		return fmt.Errorf("field %s: %q is not one of %v", path, v.Text(), spec.Enum)
	}
	return nil
}
