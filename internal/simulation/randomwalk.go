package simulation

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

// WalkConfig bounds the per-tick deltas of the random walk
type WalkConfig struct {
	MaxCoordinateDelta float64 // degrees, applied to lat and lng independently
	MaxOccupancyDelta  int
	MaxDelayDelta      int
	MaxDelayMinutes    int
}

// DefaultWalkConfig returns the bounds used when nothing is configured
func DefaultWalkConfig() WalkConfig {
	return WalkConfig{
		MaxCoordinateDelta: 0.0005,
		MaxOccupancyDelta:  1,
		MaxDelayDelta:      1,
		MaxDelayMinutes:    30,
	}
}

// RandomWalk nudges every vehicle by small bounded random deltas.
// It stands in for real telemetry.
type RandomWalk struct {
	cfg WalkConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomWalk creates a random walk. A zero seed picks a random one.
func NewRandomWalk(cfg WalkConfig, seed uint64) *RandomWalk {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomWalk{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Name implements PositionSource
func (w *RandomWalk) Name() string {
	return "random"
}

// Refresh implements PositionSource; the walk has nothing to fetch
func (w *RandomWalk) Refresh(ctx context.Context) error {
	return nil
}

// Next implements PositionSource
func (w *RandomWalk) Next(v models.Vehicle) (Reading, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	loc := models.Coordinate{
		Lat: clampFloat(v.Location.Lat+w.coordDelta(), -90, 90),
		Lng: clampFloat(v.Location.Lng+w.coordDelta(), -180, 180),
	}

	return Reading{
		Location:     loc,
		Occupancy:    clampInt(v.Occupancy+w.intDelta(w.cfg.MaxOccupancyDelta), 0, v.Capacity),
		DelayMinutes: clampInt(v.DelayMinutes+w.intDelta(w.cfg.MaxDelayDelta), 0, w.cfg.MaxDelayMinutes),
	}, true
}

// coordDelta returns a value in [-MaxCoordinateDelta, MaxCoordinateDelta]
func (w *RandomWalk) coordDelta() float64 {
	return (w.rng.Float64()*2 - 1) * w.cfg.MaxCoordinateDelta
}

// intDelta returns an integer in [-bound, bound]
func (w *RandomWalk) intDelta(bound int) int {
	if bound <= 0 {
		return 0
	}
	return w.rng.IntN(2*bound+1) - bound
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(v, hi))
}

func clampFloat(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
