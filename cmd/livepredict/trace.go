package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/livefir/livepredict"
	"github.com/livefir/livepredict/internal/diff"
	"github.com/livefir/livepredict/internal/state"
	"github.com/livefir/livepredict/internal/tree"
)

// Trace is a recorded session: the state changes of one subject and the
// trees rendered around each of them. Trees are given either as HTML or in
// the JSON node form. KeyAttr names the attribute carrying list keys in
// the HTML form; the --key-attr flag applies when it is empty.
type Trace struct {
	Subject string      `json:"subject"`
	KeyAttr string      `json:"key_attr,omitempty"`
	Schema  []fieldSpec `json:"schema,omitempty"`
	Steps   []Step      `json:"steps"`
}

type fieldSpec = livepredict.FieldSpec

// Step is one recorded change. The change is given directly or as an
// RFC 6902 patch against State holding a single operation.
type Step struct {
	Change    livepredict.StateChange `json:"change"`
	JSONPatch json.RawMessage         `json:"json_patch,omitempty"`
	State     livepredict.Value       `json:"state"`
	OldHTML   string                  `json:"old_html,omitempty"`
	NewHTML   string                  `json:"new_html,omitempty"`
	OldTree   *tree.Node              `json:"old_tree,omitempty"`
	NewTree   *tree.Node              `json:"new_tree,omitempty"`
}

// LoadTrace reads and checks a trace file
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tr, err := ParseTrace(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if tr.Subject == "" {
		tr.Subject = path
	}
	return tr, nil
}

// ParseTrace decodes a trace and resolves every step to a pair of trees
func ParseTrace(data []byte) (*Trace, error) {
	var tr Trace
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	if len(tr.Steps) == 0 {
		return nil, errors.New("trace has no steps")
	}
	parser := htmlParser(tr.KeyAttr)
	for i := range tr.Steps {
		if err := tr.Steps[i].resolveChange(tr.Subject); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if err := tr.Steps[i].resolve(parser); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if err := tr.Steps[i].Change.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return &tr, nil
}

func (s *Step) resolveChange(subject string) error {
	if len(s.JSONPatch) == 0 {
		return nil
	}
	if s.Change.StateKey != "" {
		return errors.New("change and json_patch are mutually exclusive")
	}
	changes, _, err := state.FromJSONPatch(subject, s.State, s.JSONPatch)
	if err != nil {
		return err
	}
	if len(changes) != 1 {
		return fmt.Errorf("json_patch describes %d changes, want 1", len(changes))
	}
	s.Change = changes[0]
	return nil
}

func (s *Step) resolve(parser *diff.DOMParser) error {
	var err error
	if s.OldTree == nil {
		if s.OldTree, err = parseTree(parser, "old_html", s.OldHTML); err != nil {
			return err
		}
	}
	if s.NewTree == nil {
		if s.NewTree, err = parseTree(parser, "new_html", s.NewHTML); err != nil {
			return err
		}
	}
	return nil
}

func parseTree(parser *diff.DOMParser, field, html string) (*tree.Node, error) {
	if html == "" {
		return nil, fmt.Errorf("%s or its tree form is required", field)
	}
	n, err := parser.ParseFragment(html)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}

// StepResult reports what the engine did with one step
type StepResult struct {
	Step       int     `json:"step"`
	Key        string  `json:"key"`
	Predicted  bool    `json:"predicted"`
	Rule       string  `json:"rule,omitempty"`
	Hit        bool    `json:"hit"`
	Mismatch   bool    `json:"mismatch"`
	Learned    string  `json:"learned,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Patches    int     `json:"patches"`
	Miss       string  `json:"miss,omitempty"`
	LearnErr   string  `json:"learn_error,omitempty"`
}

// Report is the result of replaying one trace
type Report struct {
	Subject string       `json:"subject"`
	Steps   []StepResult `json:"steps"`
	Hits    int          `json:"hits"`
}

// Replay runs every step through predict and verify on a fresh subject
// and returns the per-step results. The subject is torn down afterwards
// unless keep is set.
func Replay(e *livepredict.Engine, tr *Trace, keep bool) (*Report, livepredict.Handle, error) {
	h, err := e.Open(tr.Subject)
	if err != nil {
		return nil, h, err
	}
	if !keep {
		defer e.Teardown(h)
	}
	if len(tr.Schema) > 0 {
		if err := e.SetSchema(h, tr.Schema...); err != nil {
			return nil, h, err
		}
	}

	report := &Report{Subject: tr.Subject}
	for i, step := range tr.Steps {
		res := StepResult{Step: i}

		pred, err := e.Predict(h, step.Change, step.State)
		switch {
		case errors.Is(err, livepredict.ErrPredictionMiss):
			res.Miss = err.Error()
			pred = nil
		case err != nil:
			return nil, h, fmt.Errorf("step %d: %w", i, err)
		default:
			res.Predicted = true
			res.Rule = pred.Rule
		}

		out, err := e.Verify(h, livepredict.Observation{
			Change:  step.Change,
			State:   step.State,
			OldTree: step.OldTree,
			NewTree: step.NewTree,
		}, pred)
		if err != nil {
			return nil, h, fmt.Errorf("step %d: %w", i, err)
		}

		res.Key = out.Key
		res.Hit = out.Hit
		res.Mismatch = out.Mismatch
		res.Learned = out.Learned
		res.Confidence = out.Confidence
		res.Patches = len(out.Patches)
		if out.LearnErr != nil {
			res.LearnErr = out.LearnErr.Error()
		}
		if out.Hit {
			report.Hits++
		}
		report.Steps = append(report.Steps, res)
	}
	return report, h, nil
}
