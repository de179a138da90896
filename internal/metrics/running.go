package metrics

import (
	"math"
	"sync"
	"time"
)

// Running holds running statistics using Welford's online algorithm,
// so mean and standard deviation are updated in O(1) without keeping samples.
// It is safe for concurrent use.
type Running struct {
	mu    sync.Mutex
	count int
	mean  float64
	m2    float64 // sum of squared differences from the mean
}

// Observe adds one sample
func (r *Running) Observe(value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.count++
	delta := value - r.mean
	r.mean += delta / float64(r.count)
	r.m2 += delta * (value - r.mean)
}

// Snapshot is a point-in-time copy of a Running accumulator
type Snapshot struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Snapshot returns the current count, mean and population standard deviation.
// StdDev is 0 with fewer than 2 observations.
func (r *Running) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{Count: r.count, Mean: r.mean}
	if r.count >= 2 {
		s.StdDev = math.Sqrt(r.m2 / float64(r.count))
	}
	return s
}

// TickStats aggregates per-tick observations of the simulation ticker
type TickStats struct {
	duration  Running // milliseconds
	processed Running

	mu       sync.Mutex
	failed   int
	lastTick time.Time
}

// TickStatsSnapshot is the JSON shape exposed on /health
type TickStatsSnapshot struct {
	DurationMs  Snapshot   `json:"durationMs"`
	Processed   Snapshot   `json:"processed"`
	FailedTotal int        `json:"failedTotal"`
	LastTickUTC *time.Time `json:"lastTickUtc,omitempty"`
}

// NewTickStats creates an empty accumulator
func NewTickStats() *TickStats {
	return &TickStats{}
}

// Record adds the outcome of one tick
func (s *TickStats) Record(finishedAt time.Time, duration time.Duration, processed, failed int) {
	s.duration.Observe(float64(duration) / float64(time.Millisecond))
	s.processed.Observe(float64(processed))

	s.mu.Lock()
	s.failed += failed
	s.lastTick = finishedAt.UTC()
	s.mu.Unlock()
}

// Snapshot returns the current statistics
func (s *TickStats) Snapshot() TickStatsSnapshot {
	out := TickStatsSnapshot{
		DurationMs: s.duration.Snapshot(),
		Processed:  s.processed.Snapshot(),
	}

	s.mu.Lock()
	out.FailedTotal = s.failed
	if !s.lastTick.IsZero() {
		last := s.lastTick
		out.LastTickUTC = &last
	}
	s.mu.Unlock()
	return out
}
