package metrics

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Custom counter prefixes for per-label breakdowns
const (
	rulePrefix    = "rule:"
	failurePrefix = "failure:"
	messagePrefix = "message:"
)

// Collector provides simple built-in metrics collection. Every event is
// also mirrored to the package-level Prometheus series.
type Collector struct {
	engineMetrics     *EngineMetrics
	operationCounters map[string]*int64
	mu                sync.RWMutex
	startTime         time.Time
}

// EngineMetrics tracks engine-level counters
type EngineMetrics struct {
	// Subject management
	SubjectsOpened        int64 `json:"subjects_opened"`
	SubjectsClosed        int64 `json:"subjects_closed"`
	ActiveSubjects        int64 `json:"active_subjects"`
	MaxConcurrentSubjects int64 `json:"max_concurrent_subjects"`

	// Prediction
	Predictions int64 `json:"predictions"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Mismatches  int64 `json:"mismatches"`
	Corrections int64 `json:"corrections"`

	// Learning
	Extractions        int64 `json:"extractions"`
	ExtractionFailures int64 `json:"extraction_failures"`
	TemplatesEvicted   int64 `json:"templates_evicted"`

	// Memory
	TotalMemoryUsage int64 `json:"total_memory_usage"`

	// Cleanup operations
	CleanupOperations      int64 `json:"cleanup_operations"`
	ExpiredSubjectsRemoved int64 `json:"expired_subjects_removed"`

	// Uptime
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		engineMetrics: &EngineMetrics{
			StartTime: time.Now(),
		},
		operationCounters: make(map[string]*int64),
		startTime:         time.Now(),
	}
}

// IncrementSubjectOpened records a new subject
func (c *Collector) IncrementSubjectOpened() {
	atomic.AddInt64(&c.engineMetrics.SubjectsOpened, 1)
	currentActive := atomic.AddInt64(&c.engineMetrics.ActiveSubjects, 1)
	activeSubjects.Set(float64(currentActive))

	// Update max concurrent if needed
	for {
		max := atomic.LoadInt64(&c.engineMetrics.MaxConcurrentSubjects)
		if currentActive <= max {
			break
		}
		if atomic.CompareAndSwapInt64(&c.engineMetrics.MaxConcurrentSubjects, max, currentActive) {
			break
		}
	}
}

// IncrementSubjectClosed records a torn-down subject
func (c *Collector) IncrementSubjectClosed() {
	atomic.AddInt64(&c.engineMetrics.SubjectsClosed, 1)
	activeSubjects.Set(float64(atomic.AddInt64(&c.engineMetrics.ActiveSubjects, -1)))
}

// RecordPrediction records a materialized prediction and its latency
func (c *Collector) RecordPrediction(kind string, d time.Duration) {
	atomic.AddInt64(&c.engineMetrics.Predictions, 1)
	predictDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordHit records a prediction that matched the authoritative patches
func (c *Collector) RecordHit() {
	atomic.AddInt64(&c.engineMetrics.Hits, 1)
	verificationsTotal.WithLabelValues("hit").Inc()
}

// RecordMiss records a change no trusted template could serve
func (c *Collector) RecordMiss() {
	atomic.AddInt64(&c.engineMetrics.Misses, 1)
	verificationsTotal.WithLabelValues("miss").Inc()
}

// RecordMismatch records a wrong prediction and the correction issued for it
func (c *Collector) RecordMismatch() {
	atomic.AddInt64(&c.engineMetrics.Mismatches, 1)
	atomic.AddInt64(&c.engineMetrics.Corrections, 1)
	verificationsTotal.WithLabelValues("mismatch").Inc()
}

// RecordExtraction records a learned template by rule
func (c *Collector) RecordExtraction(rule string) {
	atomic.AddInt64(&c.engineMetrics.Extractions, 1)
	c.IncrementCustomCounter(rulePrefix + rule)
	extractionsTotal.WithLabelValues(rule).Inc()
}

// RecordExtractionFailure records an observation no rule generalized
func (c *Collector) RecordExtractionFailure(reason string) {
	atomic.AddInt64(&c.engineMetrics.ExtractionFailures, 1)
	c.IncrementCustomCounter(failurePrefix + reason)
	extractionFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordMessage records a client message by type
func (c *Collector) RecordMessage(kind string) {
	c.IncrementCustomCounter(messagePrefix + kind)
	messagesTotal.WithLabelValues(kind).Inc()
}

// RecordEviction records evicted templates
func (c *Collector) RecordEviction(n int) {
	atomic.AddInt64(&c.engineMetrics.TemplatesEvicted, int64(n))
	evictionsTotal.Add(float64(n))
}

// UpdateMemoryUsage updates memory usage metrics
func (c *Collector) UpdateMemoryUsage(totalMemory int64) {
	atomic.StoreInt64(&c.engineMetrics.TotalMemoryUsage, totalMemory)
	templateBytes.Set(float64(totalMemory))
}

// IncrementCleanupOperation records a cleanup operation
func (c *Collector) IncrementCleanupOperation(expiredSubjectsRemoved int64) {
	atomic.AddInt64(&c.engineMetrics.CleanupOperations, 1)
	atomic.AddInt64(&c.engineMetrics.ExpiredSubjectsRemoved, expiredSubjectsRemoved)
}

// IncrementCustomCounter increments a custom named counter
func (c *Collector) IncrementCustomCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, exists := c.operationCounters[name]; exists {
		atomic.AddInt64(counter, 1)
	} else {
		var newCounter int64 = 1
		c.operationCounters[name] = &newCounter
	}
}

// GetMetrics returns current engine metrics
func (c *Collector) GetMetrics() EngineMetrics {
	c.mu.RLock()
	start := c.startTime
	c.mu.RUnlock()

	return EngineMetrics{
		SubjectsOpened:         atomic.LoadInt64(&c.engineMetrics.SubjectsOpened),
		SubjectsClosed:         atomic.LoadInt64(&c.engineMetrics.SubjectsClosed),
		ActiveSubjects:         atomic.LoadInt64(&c.engineMetrics.ActiveSubjects),
		MaxConcurrentSubjects:  atomic.LoadInt64(&c.engineMetrics.MaxConcurrentSubjects),
		Predictions:            atomic.LoadInt64(&c.engineMetrics.Predictions),
		Hits:                   atomic.LoadInt64(&c.engineMetrics.Hits),
		Misses:                 atomic.LoadInt64(&c.engineMetrics.Misses),
		Mismatches:             atomic.LoadInt64(&c.engineMetrics.Mismatches),
		Corrections:            atomic.LoadInt64(&c.engineMetrics.Corrections),
		Extractions:            atomic.LoadInt64(&c.engineMetrics.Extractions),
		ExtractionFailures:     atomic.LoadInt64(&c.engineMetrics.ExtractionFailures),
		TemplatesEvicted:       atomic.LoadInt64(&c.engineMetrics.TemplatesEvicted),
		TotalMemoryUsage:       atomic.LoadInt64(&c.engineMetrics.TotalMemoryUsage),
		CleanupOperations:      atomic.LoadInt64(&c.engineMetrics.CleanupOperations),
		ExpiredSubjectsRemoved: atomic.LoadInt64(&c.engineMetrics.ExpiredSubjectsRemoved),
		StartTime:              start,
		Uptime:                 time.Since(start),
	}
}

// ExtractionsByRule returns learned template counts keyed by rule
func (c *Collector) ExtractionsByRule() map[string]int64 {
	return c.countersWithPrefix(rulePrefix)
}

// FailuresByReason returns extraction failure counts keyed by error kind
func (c *Collector) FailuresByReason() map[string]int64 {
	return c.countersWithPrefix(failurePrefix)
}

// MessagesByType returns client message counts keyed by message type
func (c *Collector) MessagesByType() map[string]int64 {
	return c.countersWithPrefix(messagePrefix)
}

func (c *Collector) countersWithPrefix(prefix string) map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int64)
	for name, counter := range c.operationCounters {
		if label, ok := strings.CutPrefix(name, prefix); ok {
			result[label] = atomic.LoadInt64(counter)
		}
	}
	return result
}

// HitRate returns the share of verified predictions that matched, in percent
func (c *Collector) HitRate() float64 {
	hits := atomic.LoadInt64(&c.engineMetrics.Hits)
	mismatches := atomic.LoadInt64(&c.engineMetrics.Mismatches)

	total := hits + mismatches
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

// ExtractionSuccessRate returns the share of observations that produced a
// template, in percent
func (c *Collector) ExtractionSuccessRate() float64 {
	ok := atomic.LoadInt64(&c.engineMetrics.Extractions)
	failed := atomic.LoadInt64(&c.engineMetrics.ExtractionFailures)

	total := ok + failed
	if total == 0 {
		return 100.0 // No operations means 100% success rate
	}
	return float64(ok) / float64(total) * 100.0
}
