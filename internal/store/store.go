// Package store keeps learned templates per subject. Subjects live in an
// arena addressed by generation-checked handles: a handle outliving its
// subject is detected rather than silently reused.
package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livefir/livepredict/internal/memory"
	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/value"
)

var (
	// ErrStaleHandle is returned for a handle whose subject was torn down
	// or replaced
	ErrStaleHandle = errors.New("stale subject handle")
	// ErrCapacity is returned when the arena holds MaxSubjects subjects
	ErrCapacity = errors.New("subject capacity reached")
	// ErrMemoryLimit is returned when a template does not fit the budget
	ErrMemoryLimit = memory.ErrMemoryLimit
)

// Handle addresses one subject incarnation
type Handle struct {
	Subject    string `json:"subject"`
	Generation uint64 `json:"generation"`
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.Subject, h.Generation)
}

// Key builds the entry key for a set of touched state keys: sorted,
// deduplicated and comma joined
func Key(stateKeys ...string) string {
	keys := slices.Clone(stateKeys)
	slices.Sort(keys)
	return strings.Join(slices.Compact(keys), ",")
}

// Entry is a stored template with its track record
type Entry struct {
	Key          string            `json:"key"`
	Template     template.Template `json:"-"`
	Rule         string            `json:"rule"`
	Derived      bool              `json:"derived,omitempty"`
	Observations int               `json:"observations"`
	Hits         int               `json:"hits"`
	Misses       int               `json:"misses"`
	Created      time.Time         `json:"created"`
	LastUsed     time.Time         `json:"last_used"`
	size         int64
}

// Confidence is the share of evidence that agreed with the template
func (e *Entry) Confidence() float64 {
	good := e.Observations + e.Hits
	if good+e.Misses == 0 {
		return 0
	}
	return float64(good) / float64(good+e.Misses)
}

func (e *Entry) uses() int {
	return e.Observations + e.Hits
}

// Config defines store limits
type Config struct {
	MaxSubjects            int           `yaml:"max_subjects" validate:"min=1"`
	MaxTemplatesPerSubject int           `yaml:"max_templates_per_subject" validate:"min=1"`
	IdleTTL                time.Duration `yaml:"idle_ttl"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns the default store limits
func DefaultConfig() Config {
	return Config{
		MaxSubjects:            10_000,
		MaxTemplatesPerSubject: 100,
		IdleTTL:                1 * time.Hour,
		CleanupInterval:        5 * time.Minute,
	}
}

type subject struct {
	mu sync.Mutex
	// generation is zero once the subject is dropped
	generation uint64
	refs       int
	entries    map[string]*Entry
	bytes      int64
	lastAccess time.Time
	schema     *value.Schema
}

// Store is the arena of subjects and their templates. Lookups for
// different subjects never contend beyond a read lock on the arena;
// writes are serialized per subject.
type Store struct {
	subjects   map[string]*subject
	mu         sync.RWMutex
	generation atomic.Uint64
	config     Config
	memory     *memory.Manager
	onEvict    func(subjectID string, n int)
	onCleanup  func(removed int)
	evictions  atomic.Int64
	stop       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Store
type Option func(*Store)

// WithEvictHook is called with the number of templates evicted at once
func WithEvictHook(fn func(subjectID string, n int)) Option {
	return func(s *Store) {
		s.onEvict = fn
	}
}

// WithCleanupHook is called after each cleanup pass that removed subjects
func WithCleanupHook(fn func(removed int)) Option {
	return func(s *Store) {
		s.onCleanup = fn
	}
}

// New creates a store accounting template bytes with mem. A positive
// CleanupInterval starts the idle-subject cleanup loop; Close stops it.
func New(config Config, mem *memory.Manager, opts ...Option) *Store {
	def := DefaultConfig()
	if config.MaxSubjects <= 0 {
		config.MaxSubjects = def.MaxSubjects
	}
	if config.MaxTemplatesPerSubject <= 0 {
		config.MaxTemplatesPerSubject = def.MaxTemplatesPerSubject
	}
	if mem == nil {
		mem = memory.NewManager(nil)
	}

	s := &Store{
		subjects: make(map[string]*subject),
		config:   config,
		memory:   mem,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if config.CleanupInterval > 0 && config.IdleTTL > 0 {
		go s.runCleanup(config.CleanupInterval)
	}
	return s
}

// Open returns the handle of subjectID, creating the subject when absent.
// created reports whether a new subject was made.
func (s *Store) Open(subjectID string) (h Handle, created bool, err error) {
	if subjectID == "" {
		return Handle{}, false, fmt.Errorf("empty subject id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subjects[subjectID]; ok {
		sub.mu.Lock()
		sub.lastAccess = time.Now()
		sub.refs++
		sub.mu.Unlock()
		return Handle{Subject: subjectID, Generation: sub.generation}, false, nil
	}

	if len(s.subjects) >= s.config.MaxSubjects {
		return Handle{}, false, fmt.Errorf("%w (%d subjects)", ErrCapacity, s.config.MaxSubjects)
	}

	sub := &subject{
		generation: s.generation.Add(1),
		refs:       1,
		entries:    make(map[string]*Entry),
		lastAccess: time.Now(),
	}
	s.subjects[subjectID] = sub
	return Handle{Subject: subjectID, Generation: sub.generation}, true, nil
}

// Close releases one Open of the subject. The last release tears the
// subject down and drops all its templates; removed reports whether that
// happened.
func (s *Store) Close(h Handle) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subjects[h.Subject]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.generation != h.Generation {
		return false, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	if sub.refs--; sub.refs > 0 {
		return false, nil
	}
	s.drop(h.Subject, sub)
	return true, nil
}

// drop removes a subject from the arena. Both locks must be held. The
// subject is marked dead before its bytes are released so a writer that
// resolved it earlier cannot account memory afterwards.
func (s *Store) drop(subjectID string, sub *subject) {
	sub.generation = 0
	delete(s.subjects, subjectID)
	s.memory.Release(subjectID)
}

// resolve returns the locked subject for h. Callers must unlock it.
func (s *Store) resolve(h Handle) (*subject, error) {
	s.mu.RLock()
	sub, ok := s.subjects[h.Subject]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}

	sub.mu.Lock()
	if sub.generation != h.Generation {
		sub.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	sub.lastAccess = time.Now()
	return sub, nil
}

// Lookup returns a copy of the entry stored under key
func (s *Store) Lookup(h Handle, key string) (Entry, bool, error) {
	sub, err := s.resolve(h)
	if err != nil {
		return Entry{}, false, err
	}
	defer sub.mu.Unlock()

	e, ok := sub.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	e.LastUsed = time.Now()
	return *e, true, nil
}

// Learn inserts or refines the template under key. Conditional maps and
// structural branches merge into the stored template; any other
// disagreement replaces it and restarts its track record. A derived
// template is refined only by an identical one. The returned entry is a
// copy.
func (s *Store) Learn(h Handle, key string, t template.Template, rule string, derived bool) (Entry, error) {
	sub, err := s.resolve(h)
	if err != nil {
		return Entry{}, err
	}
	defer sub.mu.Unlock()

	now := time.Now()
	next := &Entry{Key: key, Template: t, Rule: rule, Derived: derived, Observations: 1, Created: now, LastUsed: now}
	if prev, ok := sub.entries[key]; ok {
		merged, ok := template.Merge(prev.Template, t)
		// a derived template counts only identical observations
		if ok && derived && !template.Equal(prev.Template, t) {
			ok = false
		}
		if ok {
			next = &Entry{
				Key:          key,
				Template:     merged,
				Rule:         prev.Rule,
				Derived:      prev.Derived && derived,
				Observations: prev.Observations + 1,
				Hits:         prev.Hits,
				Misses:       prev.Misses,
				Created:      prev.Created,
				LastUsed:     now,
			}
		}
	}
	next.size = template.Size(next.Template)

	if err := s.place(h.Subject, sub, next); err != nil {
		return Entry{}, err
	}
	return *next, nil
}

// place stores e in sub, evicting the least frequently used entries when
// the subject is over its template cap or the memory budget
func (s *Store) place(subjectID string, sub *subject, e *Entry) error {
	evicted := 0
	defer func() {
		if evicted > 0 {
			s.evictions.Add(int64(evicted))
			if s.onEvict != nil {
				s.onEvict(subjectID, evicted)
			}
		}
	}()

	prev, replacing := sub.entries[e.Key]
	if !replacing {
		for len(sub.entries) >= s.config.MaxTemplatesPerSubject {
			if !sub.evictOne(e.Key) {
				break
			}
			evicted++
		}
	}

	for {
		bytes := sub.bytes + e.size
		if replacing {
			bytes -= prev.size
		}
		held, _ := s.memory.Usage(subjectID)
		if !s.memory.CanAllocate(bytes-held) && sub.evictOne(e.Key) {
			evicted++
			continue
		}
		if err := s.memory.Set(subjectID, bytes); err != nil {
			// account what eviction already freed
			_ = s.memory.Set(subjectID, sub.bytes)
			return err
		}
		sub.entries[e.Key] = e
		sub.bytes = bytes
		return nil
	}
}

// evictOne drops the least frequently used entry other than keep,
// oldest use first among ties
func (sub *subject) evictOne(keep string) bool {
	var victim *Entry
	for k, e := range sub.entries {
		if k == keep {
			continue
		}
		if victim == nil || e.uses() < victim.uses() ||
			(e.uses() == victim.uses() && e.LastUsed.Before(victim.LastUsed)) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	delete(sub.entries, victim.Key)
	sub.bytes -= victim.size
	return true
}

// RecordHit credits the template under key with a verified prediction
func (s *Store) RecordHit(h Handle, key string) error {
	return s.update(h, key, func(e *Entry) { e.Hits++ })
}

// RecordMiss charges the template under key with a wrong prediction
func (s *Store) RecordMiss(h Handle, key string) error {
	return s.update(h, key, func(e *Entry) { e.Misses++ })
}

func (s *Store) update(h Handle, key string, fn func(*Entry)) error {
	sub, err := s.resolve(h)
	if err != nil {
		return err
	}
	defer sub.mu.Unlock()

	if e, ok := sub.entries[key]; ok {
		fn(e)
	}
	return nil
}

// SetSchema attaches a field descriptor to the subject
func (s *Store) SetSchema(h Handle, schema *value.Schema) error {
	sub, err := s.resolve(h)
	if err != nil {
		return err
	}
	defer sub.mu.Unlock()

	sub.schema = schema
	return nil
}

// Schema returns the subject's field descriptor, nil when none was set
func (s *Store) Schema(h Handle) (*value.Schema, error) {
	sub, err := s.resolve(h)
	if err != nil {
		return nil, err
	}
	defer sub.mu.Unlock()

	return sub.schema, nil
}

// Invalidate drops the template under key
func (s *Store) Invalidate(h Handle, key string) error {
	sub, err := s.resolve(h)
	if err != nil {
		return err
	}
	defer sub.mu.Unlock()

	if e, ok := sub.entries[key]; ok {
		delete(sub.entries, key)
		sub.bytes -= e.size
		_ = s.memory.Set(h.Subject, sub.bytes)
	}
	return nil
}

// Entries returns copies of a subject's entries sorted by key
func (s *Store) Entries(h Handle) ([]Entry, error) {
	sub, err := s.resolve(h)
	if err != nil {
		return nil, err
	}
	defer sub.mu.Unlock()

	out := make([]Entry, 0, len(sub.entries))
	for _, e := range sub.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// CleanupExpired tears down subjects idle for longer than the TTL and
// returns how many were removed
func (s *Store) CleanupExpired() int {
	if s.config.IdleTTL <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-s.config.IdleTTL)

	s.mu.Lock()
	count := 0
	for id, sub := range s.subjects {
		sub.mu.Lock()
		if sub.lastAccess.Before(cutoff) {
			s.drop(id, sub)
			count++
		}
		sub.mu.Unlock()
	}
	s.mu.Unlock()

	if count > 0 && s.onCleanup != nil {
		s.onCleanup(count)
	}
	return count
}

func (s *Store) runCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-s.stop:
			return
		}
	}
}

// Shutdown stops the cleanup loop. The store stays usable.
func (s *Store) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Stats contains store occupancy data
type Stats struct {
	Subjects        int            `json:"subjects"`
	Opens           int            `json:"opens"`
	Templates       int            `json:"templates"`
	Bytes           int64          `json:"bytes"`
	Evictions       int64          `json:"evictions"`
	MaxCapacity     int            `json:"max_capacity"`
	CapacityUsed    float64        `json:"capacity_used"`
	AvgConfidence   float64        `json:"avg_confidence"`
	TemplatesByKind map[string]int `json:"templates_by_kind"`
	Memory          memory.Status  `json:"memory"`
	// TopSubjects lists the subjects holding the most template bytes
	TopSubjects []memory.SubjectMemoryInfo `json:"top_subjects"`
}

const topSubjects = 5

// Stats returns store occupancy
func (s *Store) Stats() Stats {
	s.mu.RLock()
	subjects := make([]*subject, 0, len(s.subjects))
	for _, sub := range s.subjects {
		subjects = append(subjects, sub)
	}
	s.mu.RUnlock()

	st := Stats{
		Subjects:        len(subjects),
		Evictions:       s.evictions.Load(),
		MaxCapacity:     s.config.MaxSubjects,
		CapacityUsed:    float64(len(subjects)) / float64(s.config.MaxSubjects),
		TemplatesByKind: make(map[string]int),
		Memory:          s.memory.GetMemoryStatus(),
		TopSubjects:     s.memory.TopSubjects(topSubjects),
	}

	var confidence float64
	for _, sub := range subjects {
		sub.mu.Lock()
		st.Opens += sub.refs
		st.Bytes += sub.bytes
		for _, e := range sub.entries {
			st.Templates++
			st.TemplatesByKind[string(e.Template.Kind())]++
			confidence += e.Confidence()
		}
		sub.mu.Unlock()
	}
	if st.Templates > 0 {
		st.AvgConfidence = confidence / float64(st.Templates)
	}
	return st
}
