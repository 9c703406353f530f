package diff

import (
	"testing"

	"github.com/livefir/livepredict/internal/tree"
)

func TestDOMParser_ParseFragment(t *testing.T) {
	parser := NewDOMParser()

	tests := []struct {
		name    string
		html    string
		want    *tree.Node
		wantErr bool
	}{
		{
			name: "single element",
			html: "<p>Hello World</p>",
			want: tree.Element("p", nil, tree.Text("Hello World")),
		},
		{
			name: "keys and attributes",
			html: `<ul class="todos"><li data-key="t1" class="done">Buy milk</li></ul>`,
			want: tree.Element("ul", tree.Attrs("class", "todos"),
				tree.Element("li", tree.Attrs("class", "done"), tree.Text("Buy milk")).WithKey("t1"),
			),
		},
		{
			name: "whitespace is normalized",
			html: "<div>\n  <p>\n    Count:   0\n  </p>\n</div>",
			want: tree.Element("div", nil, tree.Element("p", nil, tree.Text("Count: 0"))),
		},
		{
			name: "comments are dropped",
			html: "<div><!-- note --><span>x</span></div>",
			want: tree.Element("div", nil, tree.Element("span", nil, tree.Text("x"))),
		},
		{
			name: "several roots become a fragment",
			html: "<h1>Title</h1><p>Body</p>",
			want: tree.Fragment(
				tree.Element("h1", nil, tree.Text("Title")),
				tree.Element("p", nil, tree.Text("Body")),
			),
		},
		{
			name:    "empty input",
			html:    "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.ParseFragment(tt.html)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFragment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseFragment() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDOMParser_WithKeyAttr(t *testing.T) {
	node, err := NewDOMParser().WithKeyAttr("id").ParseFragment(`<li id="a" data-key="b">x</li>`)
	if err != nil {
		t.Fatalf("ParseFragment failed: %v", err)
	}
	if node.Key != "a" {
		t.Errorf("Key = %q, want a", node.Key)
	}
	if v, ok := node.Attr("data-key"); !ok || v != "b" {
		t.Errorf("data-key should stay an attribute, got %q %v", v, ok)
	}
}

func TestParseHTMLRoundTrip(t *testing.T) {
	src := `<ul class="todos"><li data-key="1">a</li><li data-key="2">b &amp; c</li></ul>`
	node, err := ParseHTML(src)
	if err != nil {
		t.Fatalf("ParseHTML failed: %v", err)
	}
	if node.String() != src {
		t.Errorf("String() = %s, want %s", node, src)
	}
}

func TestDOMParser_WithMinify(t *testing.T) {
	src := "<div>\n  <p>\n    Count:   0\n  </p>\n  <!-- list -->\n  <ul class=\"todos\">\n    <li data-key=\"t1\">Buy milk</li>\n  </ul>\n</div>"

	plain, err := NewDOMParser().ParseFragment(src)
	if err != nil {
		t.Fatalf("ParseFragment failed: %v", err)
	}
	minified, err := NewDOMParser().WithMinify().ParseFragment(src)
	if err != nil {
		t.Fatalf("minified ParseFragment failed: %v", err)
	}
	if !minified.Equal(plain) {
		t.Errorf("minified parse = %s, want %s", minified, plain)
	}
	if got := minifyHTML("plain text"); got != "plain text" {
		t.Errorf("minifyHTML(text) = %q", got)
	}
}
