package diff

import (
	"fmt"
	"time"

	"github.com/livefir/livepredict/internal/tree"
)

// DiffResult represents the complete result of a reconciliation
type DiffResult struct {
	Patches        []tree.Patch       `json:"patches"`
	Classification *Classification    `json:"classification"`
	Metadata       DiffMetadata       `json:"metadata"`
	Performance    PerformanceMetrics `json:"performance"`
}

// DiffMetadata contains metadata about the diff operation
type DiffMetadata struct {
	Timestamp  time.Time `json:"timestamp"`
	OldNodes   int       `json:"old_nodes"`
	NewNodes   int       `json:"new_nodes"`
	PatchCount int       `json:"patch_count"`
	Complexity string    `json:"complexity"`
}

// PerformanceMetrics tracks performance of the diff operation
type PerformanceMetrics struct {
	ParseTime    time.Duration `json:"parse_time"`
	ValidateTime time.Duration `json:"validate_time"`
	DiffTime     time.Duration `json:"diff_time"`
	ClassifyTime time.Duration `json:"classify_time"`
	TotalTime    time.Duration `json:"total_time"`
}

// Differ validates trees against size limits before reconciling them
type Differ struct {
	parser     *DOMParser
	classifier *PatternClassifier
	limits     tree.Limits
}

// NewDiffer creates a differ with the default limits
func NewDiffer() *Differ {
	return NewDifferWithLimits(tree.DefaultLimits())
}

// NewDifferWithLimits creates a differ with custom limits
func NewDifferWithLimits(limits tree.Limits) *Differ {
	return &Differ{
		parser:     NewDOMParser(),
		classifier: NewPatternClassifier(),
		limits:     limits,
	}
}

// Limits returns the limits trees are validated against
func (d *Differ) Limits() tree.Limits {
	return d.limits
}

// WithParser returns a differ that parses HTML with p
func (d *Differ) WithParser(p *DOMParser) *Differ {
	return &Differ{parser: p, classifier: d.classifier, limits: d.limits}
}

// Diff validates both trees, reconciles them and classifies the patches
func (d *Differ) Diff(prev, next *tree.Node) (*DiffResult, error) {
	return d.diff(prev, next, time.Now(), 0)
}

// DiffHTML parses two HTML fragments and diffs them
func (d *Differ) DiffHTML(oldHTML, newHTML string) (*DiffResult, error) {
	startTime := time.Now()

	prev, err := d.parser.ParseFragment(oldHTML)
	if err != nil {
		return nil, fmt.Errorf("old HTML: %w", err)
	}
	next, err := d.parser.ParseFragment(newHTML)
	if err != nil {
		return nil, fmt.Errorf("new HTML: %w", err)
	}
	return d.diff(prev, next, startTime, time.Since(startTime))
}

func (d *Differ) diff(prev, next *tree.Node, startTime time.Time, parseTime time.Duration) (*DiffResult, error) {
	perf := PerformanceMetrics{ParseTime: parseTime}

	validateStart := time.Now()
	if err := tree.Validate(prev, d.limits); err != nil {
		return nil, fmt.Errorf("old tree: %w", err)
	}
	if err := tree.Validate(next, d.limits); err != nil {
		return nil, fmt.Errorf("new tree: %w", err)
	}
	perf.ValidateTime = time.Since(validateStart)

	diffStart := time.Now()
	patches := Diff(prev, next)
	perf.DiffTime = time.Since(diffStart)

	classifyStart := time.Now()
	classification := d.classifier.Classify(patches)
	perf.ClassifyTime = time.Since(classifyStart)

	perf.TotalTime = time.Since(startTime)

	return &DiffResult{
		Patches:        patches,
		Classification: classification,
		Metadata: DiffMetadata{
			Timestamp:  startTime,
			OldNodes:   prev.Count(),
			NewNodes:   next.Count(),
			PatchCount: len(patches),
			Complexity: determineComplexity(patches, classification),
		},
		Performance: perf,
	}, nil
}

// determineComplexity analyzes the overall complexity of changes
func determineComplexity(patches []tree.Patch, c *Classification) string {
	switch {
	case len(patches) == 0:
		return "none"
	case len(patches) <= 2 && c.IsContent():
		return "simple"
	case len(patches) <= 5 && c.Pattern != PatternMixed:
		return "moderate"
	default:
		return "complex"
	}
}
