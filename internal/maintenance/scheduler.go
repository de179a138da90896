package maintenance

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// TickLogCleaner deletes tick records older than a retention window
type TickLogCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// Scheduler runs tick-log retention on a cron schedule
type Scheduler struct {
	cron      *cron.Cron
	cleaner   TickLogCleaner
	retention time.Duration
	timeout   time.Duration
}

// NewScheduler registers the cleanup job. schedule accepts standard cron
// expressions and descriptors such as "@every 1h".
func NewScheduler(cleaner TickLogCleaner, schedule string, retention time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		cleaner:   cleaner,
		retention: retention,
		timeout:   30 * time.Second,
	}

	if _, err := s.cron.AddFunc(schedule, s.RunCleanup); err != nil {
		return nil, fmt.Errorf("failed to schedule cleanup %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for a running job to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Println("Maintenance: stop timed out waiting for cleanup job")
	}
}

// RunCleanup deletes expired tick records once
func (s *Scheduler) RunCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.cleaner.Cleanup(ctx, s.retention); err != nil {
		log.Printf("Maintenance: cleanup error: %v", err)
	}
}
