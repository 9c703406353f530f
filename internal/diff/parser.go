package diff

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/livefir/livepredict/internal/tree"
)

// DefaultKeyAttr is the attribute that carries list-child identity in
// rendered HTML
const DefaultKeyAttr = "data-key"

// DOMParser converts rendered HTML into tree nodes
type DOMParser struct {
	keyAttr string
	minify  bool
}

// NewDOMParser creates a parser that reads keys from data-key
func NewDOMParser() *DOMParser {
	return &DOMParser{keyAttr: DefaultKeyAttr}
}

// WithKeyAttr returns a parser reading keys from attr instead
func (p *DOMParser) WithKeyAttr(attr string) *DOMParser {
	return &DOMParser{keyAttr: attr, minify: p.minify}
}

// WithMinify returns a parser that minifies fragments before parsing them.
// Large server-rendered pages parse faster once their indentation and
// comments are gone.
func (p *DOMParser) WithMinify() *DOMParser {
	return &DOMParser{keyAttr: p.keyAttr, minify: true}
}

// ParseHTML parses an HTML fragment with the default parser
func ParseHTML(htmlContent string) (*tree.Node, error) {
	return NewDOMParser().ParseFragment(htmlContent)
}

// ParseFragment parses an HTML fragment (without html/body wrapper). A
// single top-level node is returned as is; several are wrapped in a
// fragment node.
func (p *DOMParser) ParseFragment(htmlContent string) (*tree.Node, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return nil, fmt.Errorf("empty fragment")
	}
	if p.minify {
		htmlContent = minifyHTML(htmlContent)
	}

	nodes, err := html.ParseFragment(strings.NewReader(htmlContent), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML fragment: %w", err)
	}

	var converted []*tree.Node
	for _, node := range nodes {
		for _, extracted := range p.extractFromWrappers(node) {
			if n := p.convertNode(extracted); n != nil {
				converted = append(converted, n)
			}
		}
	}

	switch len(converted) {
	case 0:
		return nil, fmt.Errorf("no valid nodes found in fragment")
	case 1:
		return converted[0], nil
	default:
		return tree.Fragment(converted...), nil
	}
}

// extractFromWrappers extracts content from html/body wrappers that html.ParseFragment adds
func (p *DOMParser) extractFromWrappers(node *html.Node) []*html.Node {
	if node.Type == html.ElementNode && node.Data == "html" {
		var result []*html.Node
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			switch {
			case child.Type == html.ElementNode && child.Data == "body":
				for bodyChild := child.FirstChild; bodyChild != nil; bodyChild = bodyChild.NextSibling {
					result = append(result, bodyChild)
				}
			case child.Type == html.ElementNode && child.Data == "head":
				continue
			default:
				result = append(result, child)
			}
		}
		return result
	}

	if node.Type == html.ElementNode && node.Data == "body" {
		var result []*html.Node
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			result = append(result, child)
		}
		return result
	}

	return []*html.Node{node}
}

// convertNode recursively converts an html.Node. Comments, doctypes and
// whitespace-only text are dropped; text runs are whitespace-normalized.
func (p *DOMParser) convertNode(node *html.Node) *tree.Node {
	switch node.Type {
	case html.TextNode:
		text := normalizeWhitespace(node.Data)
		if text == "" {
			return nil
		}
		return tree.Text(text)

	case html.ElementNode:
		el := tree.Element(node.Data, nil)
		for _, attr := range node.Attr {
			if attr.Key == p.keyAttr {
				el.Key = attr.Val
				continue
			}
			el.Attrs = append(el.Attrs, tree.Attr{Name: attr.Key, Value: attr.Val})
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if c := p.convertNode(child); c != nil {
				el.Children = append(el.Children, c)
			}
		}
		return el
	}
	return nil
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
