package diff

import (
	"testing"

	"github.com/livefir/livepredict/internal/tree"
)

func TestPatternClassifier_Classify(t *testing.T) {
	classifier := NewPatternClassifier()

	tests := []struct {
		name        string
		patches     []tree.Patch
		wantPattern PatternType
		wantParents int
		wantContent bool
	}{
		{
			name:        "no changes",
			patches:     nil,
			wantPattern: PatternNone,
		},
		{
			name:        "text only",
			patches:     []tree.Patch{tree.SetText([]int{0}, "a"), tree.SetText([]int{1, 0}, "b")},
			wantPattern: PatternText,
			wantContent: true,
		},
		{
			name:        "attribute and text",
			patches:     []tree.Patch{tree.SetAttribute(nil, "class", "on"), tree.SetText([]int{0}, "a")},
			wantPattern: PatternAttribute,
			wantContent: true,
		},
		{
			name:        "single reorder",
			patches:     []tree.Patch{tree.ReorderChildren([]int{1}, []int{1, 0})},
			wantPattern: PatternReorder,
			wantParents: 1,
		},
		{
			name:        "reorder with text",
			patches:     []tree.Patch{tree.ReorderChildren(nil, []int{1, 0}), tree.SetText([]int{0, 0}, "x")},
			wantPattern: PatternMixed,
			wantParents: 1,
		},
		{
			name:        "removals under one parent",
			patches:     []tree.Patch{tree.RemoveChild(nil, 3), tree.RemoveChild(nil, 1)},
			wantPattern: PatternRemoval,
			wantParents: 1,
		},
		{
			name:        "removals under two parents",
			patches:     []tree.Patch{tree.RemoveChild([]int{0}, 1), tree.RemoveChild([]int{1}, 1)},
			wantPattern: PatternStructural,
			wantParents: 2,
		},
		{
			name:        "insert",
			patches:     []tree.Patch{tree.InsertChild(nil, 2, tree.Text("x"))},
			wantPattern: PatternStructural,
			wantParents: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := classifier.Classify(tt.patches)
			if c.Pattern != tt.wantPattern {
				t.Errorf("Pattern = %s, want %s (%s)", c.Pattern, tt.wantPattern, c.Reason)
			}
			if len(c.Parents) != tt.wantParents {
				t.Errorf("Parents = %v, want %d entries", c.Parents, tt.wantParents)
			}
			if c.IsContent() != tt.wantContent {
				t.Errorf("IsContent() = %v, want %v", c.IsContent(), tt.wantContent)
			}
		})
	}
}
