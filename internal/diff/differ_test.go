package diff

import (
	"errors"
	"testing"

	"github.com/livefir/livepredict/internal/tree"
)

func TestDiffer_DiffHTML(t *testing.T) {
	differ := NewDiffer()

	tests := []struct {
		name           string
		oldHTML        string
		newHTML        string
		wantPatches    int
		wantComplexity string
	}{
		{"no changes", "<div><p>Same content</p></div>", "<div><p>Same content</p></div>", 0, "none"},
		{"simple text change", "<p>Hello World</p>", "<p>Hello Universe</p>", 1, "simple"},
		{"empty to content", "<div></div>", "<div><p>Hello</p></div>", 1, "moderate"},
		{
			"reorder and edit",
			`<ul><li data-key="1">a</li><li data-key="2">b</li></ul>`,
			`<ul><li data-key="2">B</li><li data-key="1">a</li></ul>`,
			2, "complex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := differ.DiffHTML(tt.oldHTML, tt.newHTML)
			if err != nil {
				t.Fatalf("DiffHTML() error = %v", err)
			}
			if len(result.Patches) != tt.wantPatches {
				t.Errorf("got %d patches, want %d: %v", len(result.Patches), tt.wantPatches, result.Patches)
			}
			if result.Metadata.PatchCount != len(result.Patches) {
				t.Errorf("metadata patch count = %d, want %d", result.Metadata.PatchCount, len(result.Patches))
			}
			if result.Metadata.Complexity != tt.wantComplexity {
				t.Errorf("complexity = %s, want %s", result.Metadata.Complexity, tt.wantComplexity)
			}
			if result.Metadata.Timestamp.IsZero() {
				t.Error("expected non-zero timestamp")
			}
			if result.Classification == nil {
				t.Fatal("expected classification")
			}
			if result.Performance.TotalTime < result.Performance.DiffTime {
				t.Error("total time should include diff time")
			}
		})
	}
}

func TestDiffer_RejectsOversizedTrees(t *testing.T) {
	limits := tree.DefaultLimits()
	limits.MaxChildren = 2
	differ := NewDifferWithLimits(limits)

	small := ul(li("1", "a"))
	big := ul(li("1", "a"), li("2", "b"), li("3", "c"))

	_, err := differ.Diff(small, big)
	var le *tree.LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected *tree.LimitError, got %v", err)
	}
	if le.Limit != "max children" {
		t.Errorf("limit = %q", le.Limit)
	}

	if _, err := differ.Diff(small, small); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
