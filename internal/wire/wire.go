// Package wire defines the websocket messages exchanged between the
// prediction engine and a remote applier. Every message is a JSON object
// with a "type" discriminator.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// MessageType discriminates messages
type MessageType string

// Client to engine
const (
	// TypeChange asks for a prediction for a state change
	TypeChange MessageType = "change"
	// TypeObserve reports the authoritative trees for a change
	TypeObserve MessageType = "observe"
	// TypeSchema declares the subject's field kinds
	TypeSchema MessageType = "schema"
)

// Engine to client
const (
	TypeHello      MessageType = "hello"
	TypePrediction MessageType = "prediction"
	TypeMiss       MessageType = "miss"
	TypeVerified   MessageType = "verified"
	TypeCorrection MessageType = "correction"
	TypeError      MessageType = "error"
)

// Change requests a prediction. State is the full state before the change.
type Change struct {
	Type   MessageType  `json:"type"`
	Ref    string       `json:"ref,omitempty"`
	Change state.Change `json:"change"`
	State  value.Value  `json:"state"`
}

// Observe carries the authoritative render of a change. PredictionID
// names the prediction being verified, empty when none was made.
type Observe struct {
	Type         MessageType  `json:"type"`
	Ref          string       `json:"ref,omitempty"`
	PredictionID string       `json:"prediction_id,omitempty"`
	Change       state.Change `json:"change"`
	State        value.Value  `json:"state"`
	OldTree      *tree.Node   `json:"old_tree"`
	NewTree      *tree.Node   `json:"new_tree"`
}

// Schema declares field kinds and enum sets
type Schema struct {
	Type   MessageType       `json:"type"`
	Fields []value.FieldSpec `json:"fields"`
}

// Hello is sent once a connection is bound to a subject
type Hello struct {
	Type       MessageType `json:"type"`
	Subject    string      `json:"subject"`
	Generation uint64      `json:"generation"`
}

// Prediction carries predicted patches for immediate application
type Prediction struct {
	Type         MessageType  `json:"type"`
	Ref          string       `json:"ref,omitempty"`
	PredictionID string       `json:"prediction_id"`
	Rule         string       `json:"rule"`
	Confidence   float64      `json:"confidence"`
	Patches      []tree.Patch `json:"patches"`
}

// Miss tells the client to wait for the authoritative patches
type Miss struct {
	Type   MessageType `json:"type"`
	Ref    string      `json:"ref,omitempty"`
	Reason string      `json:"reason"`
}

// Verified acknowledges an observation. Learned names the rule that
// produced or refined a template, empty when nothing was learned.
type Verified struct {
	Type         MessageType `json:"type"`
	Ref          string      `json:"ref,omitempty"`
	PredictionID string      `json:"prediction_id,omitempty"`
	Hit          bool        `json:"hit"`
	Learned      string      `json:"learned,omitempty"`
}

// Correction reconciles a wrong prediction: applying Patches to the
// predicted tree yields the authoritative tree
type Correction struct {
	Type         MessageType  `json:"type"`
	Ref          string       `json:"ref,omitempty"`
	PredictionID string       `json:"prediction_id"`
	Patches      []tree.Patch `json:"patches"`
	Reason       string       `json:"reason"`
	Learned      string       `json:"learned,omitempty"`
}

// Error reports a rejected message
type Error struct {
	Type  MessageType `json:"type"`
	Ref   string      `json:"ref,omitempty"`
	Error string      `json:"error"`
}

// Decode parses a client message into *Change, *Observe or *Schema
func Decode(data []byte) (any, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	var msg any
	switch envelope.Type {
	case TypeChange:
		msg = &Change{}
	case TypeObserve:
		msg = &Observe{}
	case TypeSchema:
		msg = &Schema{}
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to parse %s message: %w", envelope.Type, err)
	}
	return msg, nil
}

// Encode marshals an engine message, stamping its type
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case *Hello:
		m.Type = TypeHello
	case *Prediction:
		m.Type = TypePrediction
		if m.Patches == nil {
			m.Patches = []tree.Patch{}
		}
	case *Miss:
		m.Type = TypeMiss
	case *Verified:
		m.Type = TypeVerified
	case *Correction:
		m.Type = TypeCorrection
		if m.Patches == nil {
			m.Patches = []tree.Patch{}
		}
	case *Error:
		m.Type = TypeError
	case *Change:
		m.Type = TypeChange
	case *Observe:
		m.Type = TypeObserve
	case *Schema:
		m.Type = TypeSchema
	default:
		return nil, fmt.Errorf("unknown message %T", msg)
	}
	return json.Marshal(msg)
}
