package livepredict

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livefir/livepredict/internal/config"
	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func counterTree(n string) *tree.Node {
	return tree.Element("p", nil, tree.Text("Count: "+n))
}

func countChange(prev, next int) StateChange {
	return StateChange{SubjectID: "tab", StateKey: "count", OldValue: value.Int(prev), NewValue: value.Int(next)}
}

func countState(n int) Value {
	return value.Object(value.F("count", value.Int(n)))
}

func learnCounter(t *testing.T, e *Engine, h Handle) {
	t.Helper()
	out, err := e.Learn(h, Observation{
		Change:  countChange(0, 1),
		State:   countState(0),
		OldTree: counterTree("0"),
		NewTree: counterTree("1"),
	})
	require.NoError(t, err)
	require.NoError(t, out.LearnErr)
	require.Equal(t, "substring", out.Learned)
}

func todo(id, text string, done bool) Value {
	return value.Object(
		value.F("id", value.String(id)),
		value.F("text", value.String(text)),
		value.F("done", value.Bool(done)),
	)
}

func todoItem(id, text string, done bool) *tree.Node {
	mark := "○"
	if done {
		mark = "●"
	}
	return tree.Element("li", nil, tree.Text(text+" "+mark)).WithKey(id)
}

func todoList(items ...Value) *tree.Node {
	children := make([]*tree.Node, len(items))
	for i, it := range items {
		id, _ := value.Lookup(it, "id")
		text, _ := value.Lookup(it, "text")
		done, _ := value.Lookup(it, "done")
		children[i] = todoItem(id.String(), text.String(), done.String() == "true")
	}
	return tree.Element("ul", nil, children...)
}

func applied(t *testing.T, root *tree.Node, patches []Patch) *tree.Node {
	t.Helper()
	got, err := tree.Apply(root, patches)
	require.NoError(t, err)
	return got
}

func TestCounterLifecycle(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)

	_, err = e.Predict(h, countChange(0, 1), countState(0))
	assert.ErrorIs(t, err, ErrPredictionMiss, "nothing is learned yet")

	learnCounter(t, e, h)

	pred, err := e.Predict(h, countChange(1, 42), countState(1))
	require.NoError(t, err)
	assert.NotEmpty(t, pred.ID)
	assert.Equal(t, "count", pred.Key)
	require.Len(t, pred.Patches, 1)
	assert.True(t, pred.Patches[0].Equal(tree.SetText([]int{0}, "Count: 42")), "got %s", pred.Patches[0])

	out, err := e.Verify(h, Observation{
		Change:  countChange(1, 42),
		State:   countState(1),
		OldTree: counterTree("1"),
		NewTree: counterTree("42"),
	}, pred)
	require.NoError(t, err)
	assert.True(t, out.Hit)
	assert.False(t, out.Mismatch)
	assert.NoError(t, out.Err)
	assert.Equal(t, pred.ID, out.PredictionID)

	stats := e.Stats()
	assert.EqualValues(t, 1, stats.Predictions)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Extractions)
	assert.EqualValues(t, 1, stats.ExtractionsByRule["substring"])
	assert.EqualValues(t, 1, stats.ActiveSubjects)
	assert.Equal(t, 1, stats.Store.Templates)
	assert.InDelta(t, 100.0, stats.HitRate, 1e-9)

	entries, err := e.Templates(h)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Hits)
}

func TestMismatchIssuesCorrection(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)
	learnCounter(t, e, h)

	pred, err := e.Predict(h, countChange(1, 2), countState(1))
	require.NoError(t, err)

	actual := tree.Element("p", nil, tree.Text("Total: 2"))
	out, err := e.Verify(h, Observation{
		Change:  countChange(1, 2),
		State:   countState(1),
		OldTree: counterTree("1"),
		NewTree: actual,
	}, pred)
	require.NoError(t, err)

	assert.True(t, out.Mismatch)
	assert.ErrorIs(t, out.Err, ErrPredictionMismatch)
	assert.False(t, out.Hit)
	predicted := applied(t, counterTree("1"), pred.Patches)
	assert.True(t, applied(t, predicted, out.Correction).Equal(actual), "correction must reach the authoritative tree")
	assert.Error(t, out.LearnErr, "the new render cannot be generalized")
	assert.Empty(t, out.Learned)

	_, err = e.Predict(h, countChange(2, 3), countState(2))
	assert.ErrorIs(t, err, ErrPredictionMiss, "a template that failed and could not be re-derived is dropped")

	stats := e.Stats()
	assert.EqualValues(t, 1, stats.Mismatches)
	assert.EqualValues(t, 1, stats.Corrections)
	assert.EqualValues(t, 1, stats.ExtractionFailures)
}

func TestConditionalRefinement(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)

	online := func(prev, next bool) StateChange {
		return StateChange{StateKey: "isOnline", OldValue: value.Bool(prev), NewValue: value.Bool(next)}
	}
	badge := func(s string) *tree.Node { return tree.Element("span", nil, tree.Text(s)) }

	out, err := e.Learn(h, Observation{Change: online(true, false), OldTree: badge("Connected"), NewTree: badge("Disconnected")})
	require.NoError(t, err)
	assert.Equal(t, "conditional", out.Learned)

	pred, err := e.Predict(h, online(false, true), value.Null())
	require.NoError(t, err)
	assert.True(t, applied(t, badge("Disconnected"), pred.Patches).Equal(badge("Connected")))
}

func TestAppendFastPath(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)

	walk := todo("t1", "Walk dog", true)
	milk := todo("t9", "Buy milk", false)
	mom := todo("t10", "Call mom", false)

	out, err := e.Learn(h, Observation{
		Change:  StateChange{StateKey: "todos", OldValue: value.Array(walk), ArrayOp: state.Append(milk)},
		State:   value.Object(value.F("todos", value.Array(walk))),
		OldTree: todoList(walk),
		NewTree: todoList(walk, milk),
	})
	require.NoError(t, err)
	assert.Equal(t, "loop_fast_path", out.Learned)

	change := StateChange{StateKey: "todos", OldValue: value.Array(walk, milk), ArrayOp: state.Append(mom)}
	pred, err := e.Predict(h, change, value.Object(value.F("todos", value.Array(walk, milk))))
	require.NoError(t, err)
	require.Len(t, pred.Patches, 1)
	assert.Equal(t, tree.OpInsertChild, pred.Patches[0].Op)
	assert.Equal(t, `<li data-key="t10">Call mom ○</li>`, pred.Patches[0].Node.String())

	out, err = e.Verify(h, Observation{
		Change:  change,
		OldTree: todoList(walk, milk),
		NewTree: todoList(walk, milk, mom),
	}, pred)
	require.NoError(t, err)
	assert.True(t, out.Hit)
}

func TestLoopItemFlagLearnedPerValue(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)

	walk := todo("t1", "Walk dog", false)
	milk := todo("t9", "Buy milk", false)
	nap := todo("t11", "Nap", true)
	read := todo("t12", "Read", true)

	appendTo := func(list []Value, item Value) Observation {
		return Observation{
			Change:  StateChange{StateKey: "todos", OldValue: value.Array(list...), ArrayOp: state.Append(item)},
			OldTree: todoList(list...),
			NewTree: todoList(append(list, item)...),
		}
	}

	out, err := e.Learn(h, appendTo([]Value{walk}, milk))
	require.NoError(t, err)
	require.Equal(t, "loop_fast_path", out.Learned)

	obs := appendTo([]Value{walk, milk}, nap)
	_, err = e.Predict(h, obs.Change, value.Null())
	assert.ErrorIs(t, err, ErrPredictionMiss, "a done item has not been seen yet")

	out, err = e.Learn(h, obs)
	require.NoError(t, err)
	require.NoError(t, out.LearnErr)

	for _, item := range []Value{read, todo("t13", "Cook", false)} {
		obs := appendTo([]Value{walk, milk, nap}, item)
		pred, err := e.Predict(h, obs.Change, value.Null())
		require.NoError(t, err)
		assert.True(t, applied(t, obs.OldTree, pred.Patches).Equal(obs.NewTree))
	}
}

func TestDerivedLoopNeedsObservations(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)

	a := todo("a", "Alpha", false)
	b := todo("b", "Beta", false)
	c := todo("c", "Gamma", false)
	d := todo("d", "Delta", false)

	observe := func(prev, next []Value) {
		t.Helper()
		out, err := e.Learn(h, Observation{
			Change:  StateChange{StateKey: "todos", OldValue: value.Array(prev...), NewValue: value.Array(next...)},
			OldTree: todoList(prev...),
			NewTree: todoList(next...),
		})
		require.NoError(t, err)
		require.Equal(t, "loop_diff", out.Learned)
	}
	predict := func() (*Prediction, error) {
		change := StateChange{StateKey: "todos", OldValue: value.Array(a, b, c), NewValue: value.Array(a, b, c, d)}
		return e.Predict(h, change, value.Null())
	}

	observe([]Value{a}, []Value{a, b})
	_, err = predict()
	assert.ErrorIs(t, err, ErrPredictionMiss, "one diff-derived observation is not enough")

	observe([]Value{a, b}, []Value{a, b, c})
	pred, err := predict()
	require.NoError(t, err)
	assert.True(t, applied(t, todoList(a, b, c), pred.Patches).Equal(todoList(a, b, c, d)))
}

func TestStructuralUnseenBranchIsAMiss(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)

	login := tree.Element("button", nil, tree.Text("Log in"))
	welcome := tree.Element("span", nil, tree.Text("Welcome"))
	view := func(n *tree.Node) *tree.Node { return tree.Element("div", nil, n) }
	change := func(prev, next Value) StateChange {
		return StateChange{StateKey: "mode", OldValue: prev, NewValue: next}
	}

	out, err := e.Learn(h, Observation{
		Change:  change(value.String("guest"), value.String("member")),
		OldTree: view(login),
		NewTree: view(welcome),
	})
	require.NoError(t, err)
	require.Equal(t, "structural", out.Learned)

	pred, err := e.Predict(h, change(value.String("member"), value.String("guest")), value.Null())
	require.NoError(t, err)
	assert.True(t, applied(t, view(welcome), pred.Patches).Equal(view(login)))

	_, err = e.Predict(h, change(value.String("member"), value.String("admin")), value.Null())
	assert.ErrorIs(t, err, ErrPredictionMiss)
}

func TestTeardownInvalidatesHandle(t *testing.T) {
	e := newEngine(t)
	h, err := e.Open("tab")
	require.NoError(t, err)
	learnCounter(t, e, h)

	require.NoError(t, e.Teardown(h))
	_, err = e.Predict(h, countChange(1, 2), countState(1))
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, e.Teardown(h), ErrStaleHandle)

	h2, err := e.Open("tab")
	require.NoError(t, err)
	assert.NotEqual(t, h.Generation, h2.Generation)
	_, err = e.Predict(h2, countChange(1, 2), countState(1))
	assert.ErrorIs(t, err, ErrPredictionMiss, "a new incarnation starts empty")

	stats := e.Stats()
	assert.EqualValues(t, 2, stats.SubjectsOpened)
	assert.EqualValues(t, 1, stats.SubjectsClosed)
}

func TestSnapshotRestore(t *testing.T) {
	src := newEngine(t)
	h, err := src.Open("tab")
	require.NoError(t, err)
	learnCounter(t, src, h)

	data, err := src.Snapshot(h)
	require.NoError(t, err)

	dst := newEngine(t)
	h2, err := dst.Open("moved-tab")
	require.NoError(t, err)
	n, err := dst.Restore(h2, data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pred, err := dst.Predict(h2, countChange(5, 6), countState(5))
	require.NoError(t, err)
	assert.True(t, pred.Patches[0].Equal(tree.SetText([]int{0}, "Count: 6")))
}

func TestLowConfidenceIsNotTrusted(t *testing.T) {
	e := newEngine(t, WithMinConfidence(0.9))
	h, err := e.Open("tab")
	require.NoError(t, err)
	learnCounter(t, e, h)

	data, err := e.Snapshot(h)
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
	entries := snap["entries"].([]any)
	entries[0].(map[string]any)["misses"] = 1
	data, err = json.Marshal(snap)
	require.NoError(t, err)

	h2, err := e.Open("doubtful")
	require.NoError(t, err)
	_, err = e.Restore(h2, data)
	require.NoError(t, err)

	_, err = e.Predict(h2, countChange(1, 2), countState(1))
	assert.ErrorIs(t, err, ErrPredictionMiss, "confidence 0.5 is below 0.9")
	assert.Contains(t, err.Error(), "confidence")

	_, err = e.Predict(h, countChange(1, 2), countState(1))
	assert.NoError(t, err)
}

func TestVerifyRejectsOversizedTrees(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.MaxNodes = 2
	e := newEngine(t, WithConfig(cfg))
	h, err := e.Open("tab")
	require.NoError(t, err)

	_, err = e.Learn(h, Observation{
		Change:  countChange(0, 1),
		OldTree: tree.Element("div", nil, counterTree("0")),
		NewTree: tree.Element("div", nil, counterTree("1")),
	})
	var le *tree.LimitError
	require.True(t, errors.As(err, &le), "got %v", err)
	assert.Equal(t, "max nodes", le.Limit)
}

func TestVerifyRejectsForeignPrediction(t *testing.T) {
	e := newEngine(t)
	a, err := e.Open("a")
	require.NoError(t, err)
	b, err := e.Open("b")
	require.NoError(t, err)
	learnCounter(t, e, a)

	pred, err := e.Predict(a, countChange(1, 2), countState(1))
	require.NoError(t, err)
	_, err = e.Verify(b, Observation{Change: countChange(1, 2), OldTree: counterTree("1"), NewTree: counterTree("2")}, pred)
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(WithMinObservations(0))
	var verr config.ValidationError
	assert.True(t, errors.As(err, &verr), "got %v", err)
}
