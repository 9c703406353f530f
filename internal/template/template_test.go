package template

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		values  []string
		want    string
		wantErr bool
	}{
		{"no slots", "plain", nil, "plain", false},
		{"one slot", "Count: {0}", []string{"42"}, "Count: 42", false},
		{"reordered slots", "{1} of {0}", []string{"a", "b"}, "b of a", false},
		{"repeated slot", "{0}-{0}", []string{"x"}, "x-x", false},
		{"escaped braces", "{{literal}} {0}", []string{"v"}, "{literal} v", false},
		{"missing binding", "{1}", []string{"a"}, "", true},
		{"bad slot", "{x}", nil, "", true},
		{"unterminated", "{0", []string{"a"}, "", true},
		{"stray close", "a}", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.tmpl, tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Format() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}

	escaped := Escape("a {b} c")
	if got, _ := Format(escaped, nil); got != "a {b} c" {
		t.Errorf("Escape round trip = %q", got)
	}
}

func TestApplyTransform(t *testing.T) {
	tests := []struct {
		transform string
		in        value.Value
		want      string
		wantErr   bool
	}{
		{"", value.Number(99.95), "99.95", false},
		{"toFixed(2)", value.Number(99.95), "99.95", false},
		{"toFixed(2)", value.Int(10), "10.00", false},
		{"toFixed(0)", value.Number(2.4), "2", false},
		{"toFixed(0)", value.Number(2.5), "3", false},
		{"toFixed(0)", value.Number(-2.5), "-3", false},
		{"toFixed(2)", value.Number(1.125), "1.13", false},
		{"toFixed(2)", value.Number(1.005), "1.00", false},
		{"times(100)", value.Number(0.07), "7", false},
		{"times(1000)", value.Number(1.2345), "1234.5", false},
		{"toUpperCase", value.String("active"), "ACTIVE", false},
		{"toLowerCase", value.String("MiXeD"), "mixed", false},
		{"titleCase", value.String("hello world"), "Hello World", false},
		{"toUpperCase", value.Int(3), "", true},
		{"toFixed(2)", value.String("x"), "", true},
		{"eval(x)", value.Int(1), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.transform+"/"+tt.in.String(), func(t *testing.T) {
			got, err := ApplyTransform(tt.transform, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyTransform() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ApplyTransform() = %q, want %q", got, tt.want)
			}
		})
	}

	_, err := ApplyTransform("eval(x)", value.Int(1))
	if !errors.Is(err, ErrMalformedTransform) {
		t.Errorf("expected ErrMalformedTransform, got %v", err)
	}
	if Transforms()[0] != "toFixed(0)" || !IsTransform("titleCase") {
		t.Errorf("unexpected whitelist %v", Transforms())
	}
}

func TestTemplatePatchRender(t *testing.T) {
	scope := value.MustParse(`{"count":42,"price":10,"user":{"name":"Ada"},"online":false}`)

	tp := TemplatePatch{Template: "Count: {0}", Bindings: []Binding{{StateKey: "count"}}}
	if got, err := tp.Render(scope); err != nil || got != "Count: 42" {
		t.Errorf("Render() = %q, %v", got, err)
	}

	price := TemplatePatch{Template: "${0}", Bindings: []Binding{{StateKey: "price", Transform: "toFixed(2)"}}}
	if got, err := price.Render(scope); err != nil || got != "$10.00" {
		t.Errorf("Render() = %q, %v", got, err)
	}

	cond := Conditional(Binding{StateKey: "online"}, map[string]string{"true": "Connected", "false": "Disconnected"})
	if got, err := cond.Render(scope); err != nil || got != "Disconnected" {
		t.Errorf("conditional Render() = %q, %v", got, err)
	}

	unseen := Conditional(Binding{StateKey: "user.name"}, map[string]string{"Bob": "hi Bob"})
	if _, err := unseen.Render(scope); !errors.Is(err, ErrPredictionMiss) {
		t.Errorf("expected ErrPredictionMiss for unseen value, got %v", err)
	}

	missing := TemplatePatch{Template: "{0}", Bindings: []Binding{{StateKey: "nope"}}}
	if _, err := missing.Render(scope); !errors.Is(err, ErrPredictionMiss) {
		t.Errorf("expected ErrPredictionMiss for missing binding, got %v", err)
	}
}

func TestPatchTemplateAbsentAttribute(t *testing.T) {
	pt := PatchTemplate{
		Op:     tree.OpSetAttribute,
		Path:   []int{0},
		Name:   "disabled",
		Value:  Conditional(Binding{StateKey: "busy"}, map[string]string{"true": "disabled"}),
		Absent: []string{"false"},
	}

	p, err := pt.Render(value.MustParse(`{"busy":false}`))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !p.Equal(tree.RemoveAttribute([]int{0}, "disabled")) {
		t.Errorf("got %s", p)
	}

	p, err = pt.Render(value.MustParse(`{"busy":true}`))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !p.Equal(tree.SetAttribute([]int{0}, "disabled", "disabled")) {
		t.Errorf("got %s", p)
	}
}

func todoItemTemplate() *ItemTemplate {
	return &ItemTemplate{
		Kind: tree.KindElement,
		Tag:  "li",
		Key:  &TemplatePatch{Template: "{0}", Bindings: []Binding{{StateKey: "item.id"}}},
		Attrs: []AttrTemplate{{
			Name:  "class",
			Value: Conditional(Binding{StateKey: "item.done"}, map[string]string{"false": "todo", "true": "todo done"}),
		}},
		Children: []*ItemTemplate{{
			Kind: tree.KindText,
			Text: &TemplatePatch{Template: "{0} ○", Bindings: []Binding{{StateKey: "item.text"}}},
		}},
	}
}

func TestItemTemplateRender(t *testing.T) {
	lt := &LoopTemplate{ArrayBinding: "todos", Item: todoItemTemplate(), IndexVar: DefaultIndexVar}
	item := value.MustParse(`{"id":"t9","text":"Buy milk","done":false}`)

	got, err := lt.Item.Render(lt.ItemScope(item, 3))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := tree.Element("li", tree.Attrs("class", "todo"), tree.Text("Buy milk ○")).WithKey("t9")
	if !got.Equal(want) {
		t.Errorf("Render() = %s, want %s", got, want)
	}

	if lt.ChildIndex(3) != 3 {
		t.Errorf("ChildIndex(3) = %d", lt.ChildIndex(3))
	}
	lt.Separator, lt.Offset = ", ", 1
	if lt.ChildIndex(3) != 7 {
		t.Errorf("ChildIndex(3) with separator = %d", lt.ChildIndex(3))
	}
}

func TestOrdering(t *testing.T) {
	items := []value.Value{
		value.MustParse(`{"id":"a","n":3,"done":true}`),
		value.MustParse(`{"id":"b","n":1,"done":false}`),
		value.MustParse(`{"id":"c","n":3,"done":false}`),
		value.MustParse(`{"id":"d","n":2,"done":true}`),
	}

	tests := []struct {
		order Ordering
		want  []int
	}{
		{Ordering{Kind: Reverse}, []int{3, 2, 1, 0}},
		{Ordering{Kind: SortAsc, Field: "n"}, []int{1, 3, 0, 2}},
		{Ordering{Kind: SortDesc, Field: "n"}, []int{0, 2, 3, 1}},
		{Ordering{Kind: SortDesc, Field: "id"}, []int{3, 2, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			got, err := tt.order.Permutation(items)
			if err != nil {
				t.Fatalf("Permutation failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Permutation mismatch (-want +got):\n%s", diff)
			}
		})
	}

	filter := Ordering{Kind: Filter, Predicate: FieldPredicate("done", "!=", value.Bool(true))}
	if filter.Predicate != "item.done != true" {
		t.Errorf("predicate = %q", filter.Predicate)
	}
	keep, err := filter.Keep(items)
	if err != nil {
		t.Fatalf("Keep failed: %v", err)
	}
	if diff := cmp.Diff([]bool{false, true, true, false}, keep); diff != "" {
		t.Errorf("Keep mismatch (-want +got):\n%s", diff)
	}

	if got := FieldPredicate("meta.tag name", "==", value.String("x")); got != `item.meta["tag name"] == "x"` {
		t.Errorf("FieldPredicate = %s", got)
	}
}

func TestWireRoundTrip(t *testing.T) {
	templates := []Template{
		&PatchSet{Patches: []PatchTemplate{{
			Op:    tree.OpSetText,
			Path:  []int{0},
			Value: TemplatePatch{Template: "Count: {0}", Bindings: []Binding{{StateKey: "count"}}},
		}}},
		&LoopTemplate{ArrayBinding: "todos", ParentPath: []int{1}, Item: todoItemTemplate(), IndexVar: "index"},
		&StructuralTemplate{
			ConditionBinding: "loggedIn",
			Path:             []int{},
			Index:            2,
			Branches:         map[string]*tree.Node{"true": tree.Element("p", nil, tree.Text("Welcome")), "false": nil},
		},
		&ReorderTemplate{ArrayBinding: "todos", ParentPath: []int{1}, Order: Ordering{Kind: SortAsc, Field: "text"}},
	}

	for _, tmpl := range templates {
		t.Run(string(tmpl.Kind()), func(t *testing.T) {
			data, err := json.Marshal(tmpl)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			var env map[string]any
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatal(err)
			}
			if env["type"] != string(tmpl.Kind()) {
				t.Errorf("type = %v, want %s", env["type"], tmpl.Kind())
			}

			decoded, err := Unmarshal(data)
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !Equal(tmpl, decoded) {
				t.Errorf("round trip changed template\n got: %s", data)
			}
		})
	}
}

func TestUnmarshalRejectsInvalidTemplates(t *testing.T) {
	inputs := map[string]string{
		"unknown type":       `{"type":"magic"}`,
		"unlisted transform": `{"type":"patches","patches":[{"op":"setText","path":[0],"value":{"template":"{0}","bindings":[{"state_key":"x","transform":"eval"}]}}]}`,
		"bad slot":           `{"type":"patches","patches":[{"op":"setText","path":[0],"value":{"template":"{3}","bindings":[]}}]}`,
		"structural op":      `{"type":"patches","patches":[{"op":"insertChild","path":[0],"value":{"bindings":[]}}]}`,
		"loop without item":  `{"type":"loop","array_binding":"todos","parent_path":[],"offset":0}`,
		"bad predicate":      `{"type":"reorder","array_binding":"a","parent_path":[],"offset":0,"trailing":0,"ordering_expression":{"kind":"filter","predicate":"item.x =="}}`,
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(in)); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := Unmarshal([]byte(inputs["unlisted transform"]))
	if !errors.Is(err, ErrMalformedTransform) {
		t.Errorf("expected ErrMalformedTransform, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	online := Binding{StateKey: "online"}
	a := &PatchSet{Patches: []PatchTemplate{{Op: tree.OpSetText, Path: []int{0}, Value: Conditional(online, map[string]string{"true": "Connected"})}}}
	b := &PatchSet{Patches: []PatchTemplate{{Op: tree.OpSetText, Path: []int{0}, Value: Conditional(online, map[string]string{"false": "Disconnected"})}}}

	merged, ok := Merge(a, b)
	if !ok {
		t.Fatal("conditional templates should merge")
	}
	got := merged.(*PatchSet).Patches[0].Value.ConditionalTemplates
	if diff := cmp.Diff(map[string]string{"true": "Connected", "false": "Disconnected"}, got); diff != "" {
		t.Errorf("merged literals (-want +got):\n%s", diff)
	}
	if len(a.Patches[0].Value.ConditionalTemplates) != 1 {
		t.Error("Merge must not modify its inputs")
	}

	conflict := &PatchSet{Patches: []PatchTemplate{{Op: tree.OpSetText, Path: []int{0}, Value: Conditional(online, map[string]string{"true": "Online"})}}}
	if _, ok := Merge(a, conflict); ok {
		t.Error("conflicting literals should not merge")
	}

	s1 := &StructuralTemplate{ConditionBinding: "tab", Index: 0, Branches: map[string]*tree.Node{"a": tree.Text("A")}}
	s2 := &StructuralTemplate{ConditionBinding: "tab", Index: 0, Branches: map[string]*tree.Node{"b": tree.Text("B")}}
	ms, ok := Merge(s1, s2)
	if !ok || len(ms.(*StructuralTemplate).Branches) != 2 {
		t.Errorf("structural branches should merge additively, got %v", ms)
	}

	text := &PatchSet{Patches: []PatchTemplate{{Op: tree.OpSetText, Path: []int{0}, Value: TemplatePatch{Template: "Count: {0}", Bindings: []Binding{{StateKey: "count"}}}}}}
	other := &PatchSet{Patches: []PatchTemplate{{Op: tree.OpSetText, Path: []int{0}, Value: TemplatePatch{Template: "Total: {0}", Bindings: []Binding{{StateKey: "count"}}}}}}
	if _, ok := Merge(text, text); !ok {
		t.Error("identical templates should merge")
	}
	if _, ok := Merge(text, other); ok {
		t.Error("different substring templates should be replaced, not merged")
	}
}

func TestConditionalOverSlots(t *testing.T) {
	tp := TemplatePatch{
		Bindings:                []Binding{{StateKey: "item.text"}, {StateKey: "item.done"}},
		ConditionalTemplates:    map[string]string{"false": "{0} ○", "true": "{0} ●"},
		ConditionalBindingIndex: 1,
	}
	if err := tp.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	tests := []struct {
		scope string
		want  string
	}{
		{`{"item":{"text":"Buy milk","done":false}}`, "Buy milk ○"},
		{`{"item":{"text":"Walk dog","done":true}}`, "Walk dog ●"},
	}
	for _, tt := range tests {
		got, err := tp.Render(value.MustParse(tt.scope))
		if err != nil || got != tt.want {
			t.Errorf("Render(%s) = %q, %v; want %q", tt.scope, got, err, tt.want)
		}
	}

	bad := tp
	bad.ConditionalTemplates = map[string]string{"false": "{5} ○"}
	if err := bad.Validate(); err == nil {
		t.Error("an entry with an unbound slot should not validate")
	}
}

func TestMergeLoopItems(t *testing.T) {
	item := func(done, mark string) *ItemTemplate {
		return &ItemTemplate{
			Kind: tree.KindElement,
			Tag:  "li",
			Key:  &TemplatePatch{Template: "{0}", Bindings: []Binding{{StateKey: "item.id"}}},
			Children: []*ItemTemplate{{
				Kind: tree.KindText,
				Text: &TemplatePatch{
					Bindings:                []Binding{{StateKey: "item.text"}, {StateKey: "item.done"}},
					ConditionalTemplates:    map[string]string{done: "{0} " + mark},
					ConditionalBindingIndex: 1,
				},
			}},
		}
	}
	open := &LoopTemplate{ArrayBinding: "todos", Item: item("false", "○"), IndexVar: DefaultIndexVar}
	done := &LoopTemplate{ArrayBinding: "todos", Item: item("true", "●"), IndexVar: DefaultIndexVar}

	merged, ok := Merge(open, done)
	if !ok {
		t.Fatal("items differing only in conditional entries should merge")
	}
	lt := merged.(*LoopTemplate)
	for _, tt := range []struct{ in, want string }{
		{`{"id":"a","text":"Read","done":false}`, `<li data-key="a">Read ○</li>`},
		{`{"id":"b","text":"Nap","done":true}`, `<li data-key="b">Nap ●</li>`},
	} {
		got, err := lt.Item.Render(lt.ItemScope(value.MustParse(tt.in), 0))
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if got.String() != tt.want {
			t.Errorf("Render() = %s, want %s", got, tt.want)
		}
	}
	if len(open.Item.Children[0].Text.ConditionalTemplates) != 1 {
		t.Error("Merge must not modify its inputs")
	}

	other := item("false", "○")
	other.Tag = "div"
	if _, ok := Merge(open, &LoopTemplate{ArrayBinding: "todos", Item: other, IndexVar: DefaultIndexVar}); ok {
		t.Error("items of different shape should be replaced, not merged")
	}
}
