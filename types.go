package livepredict

import (
	"github.com/livefir/livepredict/internal/extract"
	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/store"
	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

type (
	// Value is a state value
	Value = value.Value
	// Schema declares a subject's field kinds and enum sets
	Schema = value.Schema
	// FieldSpec is one Schema entry
	FieldSpec = value.FieldSpec
	// Node is a rendered tree node
	Node = tree.Node
	// Patch is one tree edit
	Patch = tree.Patch
	// StateChange is one state change, the unit of lookup and learning
	StateChange = state.Change
	// ArrayOperation describes how an array changed
	ArrayOperation = state.ArrayOp
	// Template is a learned template
	Template = template.Template
	// Handle addresses one subject incarnation
	Handle = store.Handle
)

// Observation is one authoritative sample: a change, the state before it
// and the trees rendered before and after it
type Observation struct {
	Change  StateChange
	State   Value
	OldTree *Node
	NewTree *Node
}

func (o Observation) extract(patches []tree.Patch, prior template.Template) extract.Observation {
	return extract.Observation{
		Change:  o.Change,
		State:   o.State,
		OldTree: o.OldTree,
		NewTree: o.NewTree,
		Patches: patches,
		Prior:   prior,
	}
}
