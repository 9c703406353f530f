// Package livepredict learns how a rendered tree changes with its state
// and predicts the patches of future changes without re-rendering.
//
// A subject's owner opens it, asks for a prediction when its state
// changes, applies the predicted patches optimistically and then reports
// the authoritative render. The engine compares both, returns a
// correction on disagreement and learns or refines a template from the
// authoritative observation.
package livepredict

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livefir/livepredict/internal/config"
	"github.com/livefir/livepredict/internal/diff"
	"github.com/livefir/livepredict/internal/extract"
	"github.com/livefir/livepredict/internal/memory"
	"github.com/livefir/livepredict/internal/metrics"
	"github.com/livefir/livepredict/internal/render"
	"github.com/livefir/livepredict/internal/store"
	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/tree"
	"github.com/livefir/livepredict/internal/value"
)

// Engine predicts, verifies and learns templates for many subjects. It is
// safe for concurrent use; calls for one subject should be sequential.
type Engine struct {
	config    *config.Config
	overrides []func(*config.Config)
	optionErr error
	logger    *slog.Logger

	differ    *diff.Differ
	extractor *extract.Extractor
	store     *store.Store
	memory    *memory.Manager
	metrics   *metrics.Collector
}

// Prediction is a materialized template awaiting verification
type Prediction struct {
	ID         string        `json:"id"`
	Handle     Handle        `json:"handle"`
	Key        string        `json:"key"`
	Rule       string        `json:"rule"`
	Confidence float64       `json:"confidence"`
	Patches    []Patch       `json:"patches"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Outcome is the result of verifying an observation
type Outcome struct {
	PredictionID string `json:"prediction_id,omitempty"`
	Key          string `json:"key"`
	// Patches is the authoritative patch sequence
	Patches []Patch `json:"patches"`
	Hit     bool    `json:"hit"`
	// Mismatch is set when a prediction disagreed; applying Correction to
	// the predicted tree yields the authoritative tree
	Mismatch   bool    `json:"mismatch"`
	Correction []Patch `json:"correction,omitempty"`
	// Err wraps ErrPredictionMismatch when the prediction disagreed
	Err error `json:"-"`
	// Learned names the rule that produced the stored template, empty
	// when nothing was learned
	Learned    string   `json:"learned,omitempty"`
	Template   Template `json:"template,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	// LearnErr explains why nothing was learned
	LearnErr error `json:"-"`
}

// New creates an engine
func New(opts ...Option) (*Engine, error) {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.optionErr != nil {
		return nil, e.optionErr
	}

	if e.config == nil {
		e.config = config.DefaultConfig()
	}
	if len(e.overrides) > 0 {
		cfg := *e.config
		for _, o := range e.overrides {
			o(&cfg)
		}
		e.config = &cfg
	}
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = metrics.NewCollector()
	}

	e.differ = diff.NewDifferWithLimits(e.config.Limits)
	e.extractor = extract.New(e.config.ExtractConfig())
	e.memory = memory.NewManager(e.config.MemoryConfig())
	e.store = store.New(e.config.StoreConfig(), e.memory,
		store.WithEvictHook(e.onEvict),
		store.WithCleanupHook(e.onCleanup),
	)
	return e, nil
}

// Close stops background cleanup
func (e *Engine) Close() {
	e.store.Shutdown()
}

// Config returns the configuration in use
func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) onEvict(subjectID string, n int) {
	e.metrics.RecordEviction(n)
	e.logger.Debug("templates evicted", "subject", subjectID, "count", n)
}

func (e *Engine) onCleanup(removed int) {
	e.metrics.IncrementCleanupOperation(int64(removed))
	for i := 0; i < removed; i++ {
		e.metrics.IncrementSubjectClosed()
	}
	e.logger.Info("idle subjects removed", "count", removed)
}

// Open returns the handle of a subject, creating it when absent
func (e *Engine) Open(subjectID string) (Handle, error) {
	h, created, err := e.store.Open(subjectID)
	if err != nil {
		return Handle{}, err
	}
	if created {
		e.metrics.IncrementSubjectOpened()
		e.logger.Debug("subject opened", "subject", subjectID, "generation", h.Generation)
	}
	return h, nil
}

// Teardown releases one Open of the subject. When no other Open holds
// it, every template is dropped and the handle is stale afterwards.
func (e *Engine) Teardown(h Handle) error {
	removed, err := e.store.Close(h)
	if err != nil {
		return err
	}
	if !removed {
		e.logger.Debug("subject released", "subject", h.Subject)
		return nil
	}
	e.metrics.IncrementSubjectClosed()
	e.metrics.UpdateMemoryUsage(e.memory.GetMemoryStatus().CurrentUsage)
	e.logger.Debug("subject torn down", "subject", h.Subject)
	return nil
}

// SetSchema declares the subject's field kinds and enum sets
func (e *Engine) SetSchema(h Handle, fields ...FieldSpec) error {
	return e.store.SetSchema(h, value.NewSchema(fields...))
}

// Predict materializes the stored template for change. st is the full
// state before the change. Without a trusted template it returns
// ErrPredictionMiss and the caller waits for the authoritative render.
func (e *Engine) Predict(h Handle, change StateChange, st Value) (*Prediction, error) {
	start := time.Now()
	key := store.Key(change.StateKey)

	entry, ok, err := e.store.Lookup(h, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.RecordMiss()
		return nil, fmt.Errorf("%w: no template for %s", ErrPredictionMiss, key)
	}
	if reason := e.untrusted(&entry); reason != "" {
		e.metrics.RecordMiss()
		return nil, fmt.Errorf("%w: %s template for %s %s", ErrPredictionMiss, entry.Rule, key, reason)
	}

	patches, err := render.Materialize(entry.Template, change, st)
	if err != nil {
		e.metrics.RecordMiss()
		e.logger.Debug("materialize failed", "subject", h.Subject, "key", key, "err", err)
		if !errors.Is(err, ErrPredictionMiss) {
			err = fmt.Errorf("%w: %v", ErrPredictionMiss, err)
		}
		return nil, err
	}

	elapsed := time.Since(start)
	e.metrics.RecordPrediction(string(entry.Template.Kind()), elapsed)
	return &Prediction{
		ID:         uuid.NewString(),
		Handle:     h,
		Key:        key,
		Rule:       entry.Rule,
		Confidence: entry.Confidence(),
		Patches:    patches,
		Elapsed:    elapsed,
	}, nil
}

func (e *Engine) untrusted(entry *store.Entry) string {
	if c := entry.Confidence(); c < e.config.Prediction.MinConfidence {
		return fmt.Sprintf("has confidence %.2f", c)
	}
	if entry.Derived && entry.Observations < e.config.Prediction.MinObservations {
		return fmt.Sprintf("has %d of %d observations", entry.Observations, e.config.Prediction.MinObservations)
	}
	return ""
}

// Verify compares a prediction with the authoritative render and learns
// from the observation. pred may be nil when no prediction was made. A
// hit needs no further work; a mismatch yields a correction and refines
// or replaces the stored template.
func (e *Engine) Verify(h Handle, obs Observation, pred *Prediction) (*Outcome, error) {
	if pred != nil && pred.Handle != h {
		return nil, fmt.Errorf("prediction %s was made for %s, not %s", pred.ID, pred.Handle, h)
	}

	result, err := e.differ.Diff(obs.OldTree, obs.NewTree)
	if err != nil {
		return nil, fmt.Errorf("authoritative diff: %w", err)
	}

	out := &Outcome{Key: store.Key(obs.Change.StateKey), Patches: result.Patches}
	if pred != nil {
		out.PredictionID = pred.ID
		if e.compare(h, obs, pred, out) {
			return out, nil
		}
	}

	if err := e.learn(h, obs, result.Patches, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Learn verifies an observation for which no prediction was made
func (e *Engine) Learn(h Handle, obs Observation) (*Outcome, error) {
	return e.Verify(h, obs, nil)
}

// compare reports whether the prediction was right. Predictions are
// compared by the tree they produce, so an equivalent patch sequence
// still counts as a hit.
func (e *Engine) compare(h Handle, obs Observation, pred *Prediction, out *Outcome) bool {
	predicted, err := tree.Apply(obs.OldTree, pred.Patches)
	if err == nil && predicted.Equal(obs.NewTree) {
		out.Hit = true
		e.metrics.RecordHit()
		_ = e.store.RecordHit(h, pred.Key)
		return true
	}

	out.Mismatch = true
	out.Err = fmt.Errorf("%w: prediction %s for %s", ErrPredictionMismatch, pred.ID, pred.Key)
	if err != nil {
		// the applier cannot have reached a known tree
		out.Correction = []Patch{tree.ReplaceChild(nil, tree.Root, obs.NewTree)}
	} else {
		out.Correction = diff.Diff(predicted, obs.NewTree)
	}
	e.metrics.RecordMismatch()
	_ = e.store.RecordMiss(h, pred.Key)
	e.logger.Info("prediction mismatch",
		"subject", h.Subject,
		"key", pred.Key,
		"rule", pred.Rule,
		"prediction", pred.ID,
		"correction", len(out.Correction),
	)
	return false
}

func (e *Engine) learn(h Handle, obs Observation, patches []Patch, out *Outcome) error {
	entry, ok, err := e.store.Lookup(h, out.Key)
	if err != nil {
		return err
	}
	var prior Template
	if ok {
		prior = entry.Template
	}

	schema, err := e.store.Schema(h)
	if err != nil {
		return err
	}
	extractor := e.extractor
	if schema != nil {
		extractor = extractor.WithSchema(schema)
	}

	res, err := extractor.Extract(obs.extract(patches, prior))
	if err != nil {
		out.LearnErr = err
		e.metrics.RecordExtractionFailure(template.Reason(err))
		if out.Mismatch {
			// a template that mispredicted and cannot be re-derived is dropped
			_ = e.store.Invalidate(h, out.Key)
		}
		e.logger.Debug("extraction failed", "subject", h.Subject, "key", out.Key, "err", err)
		return nil
	}

	stored, err := e.store.Learn(h, out.Key, res.Template, res.Rule, res.Derived)
	if errors.Is(err, ErrMemoryLimit) {
		out.LearnErr = err
		e.metrics.RecordExtractionFailure("memory_limit")
		e.logger.Warn("template memory budget exhausted", "subject", h.Subject, "key", out.Key, "err", err)
		return nil
	}
	if err != nil {
		return err
	}

	e.metrics.RecordExtraction(res.Rule)
	out.Learned = stored.Rule
	out.Template = stored.Template
	out.Confidence = stored.Confidence()
	e.logger.Debug("template learned",
		"subject", h.Subject,
		"key", out.Key,
		"rule", res.Rule,
		"observations", stored.Observations,
		"confidence", out.Confidence,
	)
	e.checkMemory()
	return nil
}

func (e *Engine) checkMemory() {
	status := e.memory.GetMemoryStatus()
	e.metrics.UpdateMemoryUsage(status.CurrentUsage)
	if !e.memory.IsNearCapacity() {
		return
	}
	attrs := []any{
		"level", status.Level,
		"usage_pct", status.UsagePercentage,
		"available", e.memory.GetAvailableMemory(),
		"subjects", status.Subjects,
	}
	if e.memory.IsAtCapacity() {
		attrs = append(attrs, "top_subjects", e.memory.TopSubjects(3))
		e.logger.Error("template memory critical", attrs...)
		return
	}
	e.logger.Warn("template memory pressure", attrs...)
}

// Templates returns the subject's stored templates
func (e *Engine) Templates(h Handle) ([]store.Entry, error) {
	return e.store.Entries(h)
}

// Snapshot exports a subject's templates as JSON
func (e *Engine) Snapshot(h Handle) ([]byte, error) {
	return e.store.Snapshot(h)
}

// Restore imports templates exported by Snapshot into the subject
func (e *Engine) Restore(h Handle, data []byte) (int, error) {
	n, err := e.store.Restore(h, data)
	if err != nil {
		return n, fmt.Errorf("restore %s: %w", h, err)
	}
	e.logger.Debug("templates restored", "subject", h.Subject, "count", n)
	e.checkMemory()
	return n, nil
}

// Stats contains engine statistics
type Stats struct {
	metrics.EngineMetrics
	ExtractionsByRule     map[string]int64 `json:"extractions_by_rule"`
	FailuresByReason      map[string]int64 `json:"failures_by_reason"`
	MessagesByType        map[string]int64 `json:"messages_by_type"`
	HitRate               float64          `json:"hit_rate"`
	ExtractionSuccessRate float64          `json:"extraction_success_rate"`
	Store                 store.Stats      `json:"store"`
}

// Stats returns engine statistics
func (e *Engine) Stats() Stats {
	return Stats{
		EngineMetrics:         e.metrics.GetMetrics(),
		ExtractionsByRule:     e.metrics.ExtractionsByRule(),
		FailuresByReason:      e.metrics.FailuresByReason(),
		MessagesByType:        e.metrics.MessagesByType(),
		HitRate:               e.metrics.HitRate(),
		ExtractionSuccessRate: e.metrics.ExtractionSuccessRate(),
		Store:                 e.store.Stats(),
	}
}
