package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeCleaner struct {
	mu         sync.Mutex
	calls      int
	retentions []time.Duration
	err        error
}

func (f *fakeCleaner) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.retentions = append(f.retentions, retention)
	return 0, f.err
}

func (f *fakeCleaner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	tests := []string{"", "every hour", "@every", "61 * * * *"}
	for _, schedule := range tests {
		t.Run(schedule, func(t *testing.T) {
			if _, err := NewScheduler(&fakeCleaner{}, schedule, time.Hour); err == nil {
				t.Errorf("expected error for schedule %q", schedule)
			}
		})
	}
}

func TestRunCleanupPassesRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	s, err := NewScheduler(cleaner, "@every 1h", 24*time.Hour)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	s.RunCleanup()
	cleaner.err = errors.New("database is locked")
	s.RunCleanup() // errors are logged, not returned

	if cleaner.callCount() != 2 {
		t.Fatalf("expected 2 cleanup calls, got %d", cleaner.callCount())
	}
	for _, r := range cleaner.retentions {
		if r != 24*time.Hour {
			t.Errorf("retention = %v, expected 24h", r)
		}
	}
}

func TestSchedulerRunsOnSchedule(t *testing.T) {
	cleaner := &fakeCleaner{}
	s, err := NewScheduler(cleaner, "@every 1s", time.Hour)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for cleaner.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if cleaner.callCount() == 0 {
		t.Fatal("cleanup job never ran")
	}
}
