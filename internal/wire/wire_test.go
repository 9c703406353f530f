package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

func TestDecode(t *testing.T) {
	t.Run("change with array op", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"change","ref":"1","change":{"subject_id":"tab","state_key":"todos","old_value":[],"new_value":null,"array_op":{"type":"append","item":{"id":"t9","text":"Buy milk"}}},"state":{"todos":[]}}`))
		require.NoError(t, err)

		c, ok := msg.(*Change)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, "1", c.Ref)
		assert.Equal(t, "todos", c.Change.StateKey)
		require.NotNil(t, c.Change.ArrayOp)
		assert.Equal(t, state.OpAppend, c.Change.ArrayOp.Kind)
		text, _ := value.Lookup(c.Change.ArrayOp.Item, "text")
		assert.Equal(t, "Buy milk", text.String())
	})

	t.Run("observe", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"observe","prediction_id":"p1","change":{"state_key":"count","old_value":0,"new_value":1},"old_tree":{"type":"text","text":"Count: 0"},"new_tree":{"type":"text","text":"Count: 1"}}`))
		require.NoError(t, err)

		o, ok := msg.(*Observe)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, "p1", o.PredictionID)
		assert.True(t, o.OldTree.Equal(tree.Text("Count: 0")))
		assert.True(t, o.NewTree.Equal(tree.Text("Count: 1")))
		assert.True(t, o.State.IsNull())
	})

	t.Run("schema", func(t *testing.T) {
		msg, err := Decode([]byte(`{"type":"schema","fields":[{"path":"status","kind":"string","enum":["open","closed"]}]}`))
		require.NoError(t, err)

		s, ok := msg.(*Schema)
		require.True(t, ok, "got %T", msg)
		require.Len(t, s.Fields, 1)
		assert.Equal(t, value.KindString, s.Fields[0].Kind)
	})

	for _, in := range []string{`nope`, `{"type":"explode"}`, `{"type":"observe","old_tree":{"type":"bogus"}}`} {
		_, err := Decode([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(&Prediction{PredictionID: "p1", Rule: "substring", Confidence: 1})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "prediction", raw["type"])
	assert.Equal(t, []any{}, raw["patches"], "nil patches encode as an empty list")

	data, err = Encode(&Correction{PredictionID: "p1", Patches: []tree.Patch{tree.SetText([]int{0}, "Count: 2")}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"type":"correction"`), string(data))
	assert.Contains(t, string(data), `"type":"setText"`)

	_, err = Encode(struct{}{})
	assert.Error(t, err)
}

func TestEncodeDecodeClientMessages(t *testing.T) {
	in := &Observe{
		Ref:     "7",
		Change:  state.Change{StateKey: "todos", OldValue: value.MustParse(`[{"id":"a"}]`), ArrayOp: state.RemoveAt(0)},
		OldTree: tree.Element("ul", nil, tree.Element("li", nil, tree.Text("a")).WithKey("a")),
		NewTree: tree.Element("ul", nil),
	}
	data, err := Encode(in)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	out, ok := msg.(*Observe)
	require.True(t, ok)
	assert.Equal(t, state.OpRemoveAt, out.Change.ArrayOp.Kind)
	assert.True(t, in.OldTree.Equal(out.OldTree))
	assert.True(t, in.NewTree.Equal(out.NewTree))
	assert.True(t, in.Change.OldValue.Equal(out.Change.OldValue))
}
