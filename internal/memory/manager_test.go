package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestManager_BasicFunctionality(t *testing.T) {
	manager := NewManager(&Config{
		MaxMemoryMB:          10,
		WarningThresholdPct:  75,
		CriticalThresholdPct: 90,
	})

	status := manager.GetMemoryStatus()
	if status.CurrentUsage != 0 {
		t.Errorf("expected initial usage 0, got %d", status.CurrentUsage)
	}
	if status.Level != LevelOK {
		t.Errorf("expected initial level OK, got %s", status.Level)
	}
	if status.Subjects != 0 {
		t.Errorf("expected 0 subjects, got %d", status.Subjects)
	}
	if status.MaxMemory != 10*1024*1024 {
		t.Errorf("expected 10MB budget, got %d", status.MaxMemory)
	}
}

func TestManager_SetAndRelease(t *testing.T) {
	manager := NewManagerBytes(1000, nil)

	if err := manager.Set("s1", 300); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Set("s2", 200); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := manager.Set("s1", 100); err != nil {
		t.Fatalf("shrinking failed: %v", err)
	}

	status := manager.GetMemoryStatus()
	if status.CurrentUsage != 300 {
		t.Errorf("expected usage 300, got %d", status.CurrentUsage)
	}
	if status.AverageSubjectMemory != 150 {
		t.Errorf("expected average 150, got %d", status.AverageSubjectMemory)
	}

	manager.Release("s1")
	if usage, ok := manager.Usage("s1"); ok {
		t.Errorf("released subject still tracked with %d bytes", usage)
	}
	if got := manager.GetAvailableMemory(); got != 800 {
		t.Errorf("expected 800 available, got %d", got)
	}

	manager.Release("unknown")
	if err := manager.Set("s2", 0); err != nil {
		t.Fatalf("Set to zero failed: %v", err)
	}
	if manager.GetMemoryStatus().Subjects != 0 {
		t.Error("a subject with no bytes should not be tracked")
	}
}

func TestManager_LimitEnforcement(t *testing.T) {
	manager := NewManagerBytes(1000, nil)

	if err := manager.Set("s1", 900); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	err := manager.Set("s2", 200)
	if !errors.Is(err, ErrMemoryLimit) {
		t.Fatalf("expected ErrMemoryLimit, got %v", err)
	}
	if _, ok := manager.Usage("s2"); ok {
		t.Error("refused allocation should not be recorded")
	}
	if manager.CanAllocate(101) {
		t.Error("CanAllocate should refuse 101 bytes")
	}
	if !manager.CanAllocate(100) {
		t.Error("CanAllocate should accept 100 bytes")
	}
}

func TestManager_Levels(t *testing.T) {
	manager := NewManagerBytes(1000, &Config{WarningThresholdPct: 50, CriticalThresholdPct: 80})

	tests := []struct {
		usage int64
		want  Level
	}{
		{100, LevelOK},
		{500, LevelWarning},
		{850, LevelCritical},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			if err := manager.Set("s", tt.usage); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if got := manager.GetMemoryStatus().Level; got != tt.want {
				t.Errorf("level at %d = %s, want %s", tt.usage, got, tt.want)
			}
			if manager.IsNearCapacity() != (tt.want != LevelOK) {
				t.Errorf("IsNearCapacity at %d", tt.usage)
			}
			if manager.IsAtCapacity() != (tt.want == LevelCritical) {
				t.Errorf("IsAtCapacity at %d", tt.usage)
			}
		})
	}
}

func TestManager_TopSubjects(t *testing.T) {
	manager := NewManagerBytes(1<<20, nil)
	for i, size := range []int64{10, 30, 20, 30} {
		if err := manager.Set(fmt.Sprintf("s%d", i), size); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	top := manager.TopSubjects(3)
	want := []string{"s1", "s3", "s2"}
	if len(top) != len(want) {
		t.Fatalf("expected %d subjects, got %d", len(want), len(top))
	}
	for i, id := range want {
		if top[i].SubjectID != id {
			t.Errorf("top[%d] = %s, want %s", i, top[i].SubjectID, id)
		}
	}
	if got := len(manager.TopSubjects(100)); got != 4 {
		t.Errorf("limit larger than count should return all, got %d", got)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	manager := NewManagerBytes(1<<20, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			subject := fmt.Sprintf("subject-%d", id)
			for j := 1; j <= 50; j++ {
				_ = manager.Set(subject, int64(j))
				_ = manager.GetMemoryStatus()
			}
			manager.Release(subject)
		}(i)
	}
	wg.Wait()

	if usage := manager.GetMemoryStatus().CurrentUsage; usage != 0 {
		t.Errorf("expected usage 0 after all releases, got %d", usage)
	}
}
