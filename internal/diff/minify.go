package diff

import (
	"strings"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var (
	minifier *minify.M
	once     sync.Once
)

// getMinifier returns an HTML minifier that only drops markup the parser
// would discard anyway, so a minified fragment parses to the same tree
func getMinifier() *minify.M {
	once.Do(func() {
		minifier = minify.New()
		minifier.Add("text/html", &html.Minifier{
			KeepDefaultAttrVals: true,
			KeepDocumentTags:    true,
			KeepEndTags:         true,
			KeepQuotes:          true,
			KeepSpecialComments: false,
		})
	})
	return minifier
}

// minifyHTML strips comments and inter-tag whitespace from rendered HTML.
// Content that fails to minify is returned unchanged.
func minifyHTML(htmlContent string) string {
	if !strings.Contains(htmlContent, "<") {
		return htmlContent
	}
	minified, err := getMinifier().String("text/html", htmlContent)
	if err != nil {
		return htmlContent
	}
	return minified
}
