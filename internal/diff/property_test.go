package diff

import (
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/livefir/livepredict/internal/tree"
)

var (
	genTags  = []string{"div", "ul", "li", "span", "p"}
	genAttrs = []string{"class", "id", "title", "href"}
)

// treeGen builds random trees and random edits of them
type treeGen struct {
	f    *gofakeit.Faker
	keys int
}

func (g *treeGen) freshKey() string {
	g.keys++
	return fmt.Sprintf("k%d", g.keys)
}

func (g *treeGen) attrs() []tree.Attr {
	var attrs []tree.Attr
	for _, name := range genAttrs {
		if g.f.IntRange(0, 2) == 0 {
			attrs = append(attrs, tree.Attr{Name: name, Value: g.f.Word()})
		}
	}
	return attrs
}

func (g *treeGen) node(depth int) *tree.Node {
	if depth == 0 || g.f.IntRange(0, 3) == 0 {
		return tree.Text(g.f.Word())
	}
	el := tree.Element(genTags[g.f.IntRange(0, len(genTags)-1)], g.attrs())
	keyed := g.f.Bool()
	for i := g.f.IntRange(0, 4); i > 0; i-- {
		el.Children = append(el.Children, g.child(depth-1, keyed))
	}
	return el
}

func (g *treeGen) child(depth int, keyed bool) *tree.Node {
	c := g.node(depth)
	if keyed && c.Kind == tree.KindElement {
		c.Key = g.freshKey()
	}
	return c
}

// mutate returns an edited copy of n; keys stay unique among siblings
func (g *treeGen) mutate(n *tree.Node, depth int) *tree.Node {
	c := *n
	if n.Kind == tree.KindText {
		if g.f.Bool() {
			c.Text = g.f.Word()
		}
		return &c
	}
	if n.Key == "" && depth > 0 && g.f.IntRange(0, 5) == 0 {
		return g.node(depth)
	}
	if g.f.Bool() {
		c.Attrs = g.attrs()
	}

	keyed := isKeyed(n.Children)
	children := make([]*tree.Node, 0, len(n.Children)+1)
	for _, ch := range n.Children {
		switch g.f.IntRange(0, 5) {
		case 0:
		case 1, 2:
			children = append(children, g.mutate(ch, depth-1))
		default:
			children = append(children, ch)
		}
	}
	if depth > 0 && g.f.Bool() {
		at := g.f.IntRange(0, len(children))
		children = append(children[:at], append([]*tree.Node{g.child(depth-1, keyed)}, children[at:]...)...)
	}
	if g.f.IntRange(0, 2) == 0 {
		for i := len(children) - 1; i > 0; i-- {
			j := g.f.IntRange(0, i)
			children[i], children[j] = children[j], children[i]
		}
	}
	c.Children = children
	return &c
}

func TestDiffRoundTripProperty(t *testing.T) {
	for seed := uint64(1); seed <= 300; seed++ {
		g := &treeGen{f: gofakeit.New(int64(seed))}
		prev := g.node(4)
		var next *tree.Node
		if seed%5 == 0 {
			next = g.node(4)
		} else {
			next = g.mutate(prev, 4)
		}

		if same := Diff(prev, prev); len(same) != 0 {
			t.Fatalf("seed %d: Diff(A, A) = %v, want empty", seed, same)
		}

		patches := Diff(prev, next)
		got, err := tree.Apply(prev, patches)
		if err != nil {
			t.Fatalf("seed %d: Apply failed: %v\nprev: %s\nnext: %s\npatches: %v", seed, err, prev, next, patches)
		}
		if !got.Equal(next) {
			t.Fatalf("seed %d: round trip mismatch\nprev: %s\nnext: %s\n got: %s\npatches: %v", seed, prev, next, got, patches)
		}
	}
}
