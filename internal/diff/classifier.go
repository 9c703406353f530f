package diff

import (
	"slices"

	"github.com/livefir/livepredict/internal/tree"
)

// PatternType represents the shape of a patch set
type PatternType string

const (
	PatternNone       PatternType = "none"       // identical trees
	PatternText       PatternType = "text"       // SetText only
	PatternAttribute  PatternType = "attribute"  // attribute ops, optionally with SetText
	PatternReorder    PatternType = "reorder"    // one ReorderChildren
	PatternRemoval    PatternType = "removal"    // RemoveChild only, one parent
	PatternStructural PatternType = "structural" // Insert/Remove/Replace, optionally with content ops
	PatternMixed      PatternType = "mixed"      // reorder combined with anything else
)

// Classification describes a patch set for template extraction
type Classification struct {
	Pattern    PatternType `json:"pattern"`
	Text       int         `json:"text"`
	Attribute  int         `json:"attribute"`
	Structural int         `json:"structural"`
	Reorder    int         `json:"reorder"`
	// Parents lists the distinct parent paths of structural and reorder ops
	Parents [][]int `json:"parents,omitempty"`
	Reason  string  `json:"reason"`
}

// IsContent reports whether the set only rewrites text and attributes
func (c *Classification) IsContent() bool {
	return c.Pattern == PatternText || c.Pattern == PatternAttribute
}

// SingleParent reports whether every structural op targets one parent
func (c *Classification) SingleParent() bool {
	return len(c.Parents) == 1
}

// PatternClassifier sorts patch sets into the patterns the extractor
// knows how to generalize
type PatternClassifier struct{}

// NewPatternClassifier creates a new pattern classifier
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify inspects a patch sequence
func (pc *PatternClassifier) Classify(patches []tree.Patch) *Classification {
	c := &Classification{}
	for _, p := range patches {
		switch p.Op {
		case tree.OpSetText:
			c.Text++
		case tree.OpSetAttribute, tree.OpRemoveAttribute:
			c.Attribute++
		case tree.OpInsertChild, tree.OpRemoveChild, tree.OpReplaceChild:
			c.Structural++
			c.addParent(p.Path)
		case tree.OpReorderChildren:
			c.Reorder++
			c.addParent(p.Path)
		}
	}
	c.Pattern, c.Reason = pc.selectPattern(c, patches)
	return c
}

func (c *Classification) addParent(path []int) {
	for _, p := range c.Parents {
		if slices.Equal(p, path) {
			return
		}
	}
	c.Parents = append(c.Parents, slices.Clone(path))
}

// selectPattern uses rule-based deterministic selection
func (pc *PatternClassifier) selectPattern(c *Classification, patches []tree.Patch) (PatternType, string) {
	switch {
	case len(patches) == 0:
		return PatternNone, "no changes detected"
	case c.Reorder > 0 && (c.Reorder > 1 || len(patches) > 1):
		return PatternMixed, "reorder combined with other changes"
	case c.Reorder == 1:
		return PatternReorder, "single reorder of one child list"
	case c.Structural > 0 && c.Text == 0 && c.Attribute == 0 && onlyRemovals(patches) && c.SingleParent():
		return PatternRemoval, "removals from one child list"
	case c.Structural > 0:
		return PatternStructural, "child insertions, removals or replacements"
	case c.Attribute > 0:
		return PatternAttribute, "attribute changes"
	default:
		return PatternText, "text-only changes"
	}
}

func onlyRemovals(patches []tree.Patch) bool {
	for _, p := range patches {
		if p.Op != tree.OpRemoveChild {
			return false
		}
	}
	return true
}
