package memory

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrMemoryLimit is returned when an allocation would exceed the budget
var ErrMemoryLimit = errors.New("template memory limit exceeded")

// Level names a memory pressure level
type Level string

const (
	LevelOK       Level = "OK"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Manager accounts the bytes held by each subject's templates against a
// global budget
type Manager struct {
	maxMemoryBytes   int64
	currentUsage     int64
	subjectUsage     map[string]int64 // subjectID -> template bytes
	memoryThresholds *Thresholds
	mu               sync.RWMutex
	config           *Config
}

// Config defines memory manager configuration
type Config struct {
	MaxMemoryMB          int           `yaml:"max_memory_mb" validate:"min=1"`
	WarningThresholdPct  int           `yaml:"warning_pct" validate:"min=1,max=100"`
	CriticalThresholdPct int           `yaml:"critical_pct" validate:"min=1,max=100,gtefield=WarningThresholdPct"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// Thresholds defines memory usage thresholds
type Thresholds struct {
	WarningBytes  int64 // Warning threshold in bytes
	CriticalBytes int64 // Critical threshold in bytes
}

// DefaultConfig returns secure default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxMemoryMB:          100, // 100MB default limit
		WarningThresholdPct:  75,  // 75% warning
		CriticalThresholdPct: 90,  // 90% critical
		CleanupInterval:      1 * time.Minute,
	}
}

// NewManager creates a new memory manager
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return NewManagerBytes(int64(config.MaxMemoryMB)*1024*1024, config)
}

// NewManagerBytes creates a manager with an exact byte budget; config
// supplies the thresholds
func NewManagerBytes(maxBytes int64, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{
		maxMemoryBytes: maxBytes,
		subjectUsage:   make(map[string]int64),
		config:         config,
		memoryThresholds: &Thresholds{
			WarningBytes:  (maxBytes * int64(config.WarningThresholdPct)) / 100,
			CriticalBytes: (maxBytes * int64(config.CriticalThresholdPct)) / 100,
		},
	}
}

// Set records the template bytes held by subjectID, replacing the
// previous figure. Growth beyond the budget is refused with ErrMemoryLimit
// and leaves the old figure in place; shrinking always succeeds.
func (m *Manager) Set(subjectID string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := size - m.subjectUsage[subjectID]
	current := atomic.LoadInt64(&m.currentUsage)
	if delta > 0 && current+delta > m.maxMemoryBytes {
		return fmt.Errorf("%w: %d + %d > %d", ErrMemoryLimit, current, delta, m.maxMemoryBytes)
	}

	if size == 0 {
		delete(m.subjectUsage, subjectID)
	} else {
		m.subjectUsage[subjectID] = size
	}
	atomic.AddInt64(&m.currentUsage, delta)
	return nil
}

// Release forgets a subject
func (m *Manager) Release(subjectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if usage, exists := m.subjectUsage[subjectID]; exists {
		atomic.AddInt64(&m.currentUsage, -usage)
		delete(m.subjectUsage, subjectID)
	}
}

// Status contains memory usage information
type Status struct {
	CurrentUsage         int64   `json:"current_usage"`
	MaxMemory            int64   `json:"max_memory"`
	UsagePercentage      float64 `json:"usage_percentage"`
	Level                Level   `json:"level"`
	Subjects             int     `json:"subjects"`
	AverageSubjectMemory int64   `json:"average_subject_memory"`
	WarningThreshold     int64   `json:"warning_threshold"`
	CriticalThreshold    int64   `json:"critical_threshold"`
}

// GetMemoryStatus returns current memory usage status
func (m *Manager) GetMemoryStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	currentUsage := atomic.LoadInt64(&m.currentUsage)

	status := Status{
		CurrentUsage:      currentUsage,
		MaxMemory:         m.maxMemoryBytes,
		Subjects:          len(m.subjectUsage),
		WarningThreshold:  m.memoryThresholds.WarningBytes,
		CriticalThreshold: m.memoryThresholds.CriticalBytes,
		Level:             m.level(currentUsage),
	}
	if m.maxMemoryBytes > 0 {
		status.UsagePercentage = float64(currentUsage) / float64(m.maxMemoryBytes) * 100
	}
	if len(m.subjectUsage) > 0 {
		status.AverageSubjectMemory = currentUsage / int64(len(m.subjectUsage))
	}
	return status
}

func (m *Manager) level(usage int64) Level {
	switch {
	case usage >= m.memoryThresholds.CriticalBytes:
		return LevelCritical
	case usage >= m.memoryThresholds.WarningBytes:
		return LevelWarning
	}
	return LevelOK
}

// IsAtCapacity reports whether usage reached the critical threshold
func (m *Manager) IsAtCapacity() bool {
	return atomic.LoadInt64(&m.currentUsage) >= m.memoryThresholds.CriticalBytes
}

// IsNearCapacity reports whether usage reached the warning threshold
func (m *Manager) IsNearCapacity() bool {
	return atomic.LoadInt64(&m.currentUsage) >= m.memoryThresholds.WarningBytes
}

// GetAvailableMemory returns available memory in bytes
func (m *Manager) GetAvailableMemory() int64 {
	available := m.maxMemoryBytes - atomic.LoadInt64(&m.currentUsage)
	if available < 0 {
		return 0
	}
	return available
}

// CanAllocate checks if a given size can be allocated
func (m *Manager) CanAllocate(size int64) bool {
	return atomic.LoadInt64(&m.currentUsage)+size <= m.maxMemoryBytes
}

// Usage returns the bytes held by one subject
func (m *Manager) Usage(subjectID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage, exists := m.subjectUsage[subjectID]
	return usage, exists
}

// SubjectMemoryInfo contains memory usage information for a subject
type SubjectMemoryInfo struct {
	SubjectID string `json:"subject_id"`
	Usage     int64  `json:"usage"`
}

// TopSubjects returns the subjects using the most memory, largest first
func (m *Manager) TopSubjects(limit int) []SubjectMemoryInfo {
	m.mu.RLock()
	subjects := make([]SubjectMemoryInfo, 0, len(m.subjectUsage))
	for id, usage := range m.subjectUsage {
		subjects = append(subjects, SubjectMemoryInfo{SubjectID: id, Usage: usage})
	}
	m.mu.RUnlock()

	slices.SortFunc(subjects, func(a, b SubjectMemoryInfo) int {
		if c := cmp.Compare(b.Usage, a.Usage); c != 0 {
			return c
		}
		return strings.Compare(a.SubjectID, b.SubjectID)
	})
	return subjects[:min(limit, len(subjects))]
}
