package simulation

import (
	"math"
	"testing"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

func TestRandomWalkBounds(t *testing.T) {
	cfg := DefaultWalkConfig()
	walk := NewRandomWalk(cfg, 42)

	tests := []struct {
		name    string
		vehicle models.Vehicle
	}{
		{"mid load", models.Vehicle{ID: "B-1", Location: models.Coordinate{Lat: 10, Lng: 20}, Occupancy: 5, Capacity: 10, DelayMinutes: 3}},
		{"empty bus", models.Vehicle{ID: "B-2", Location: models.Coordinate{Lat: 41.38, Lng: 2.17}, Occupancy: 0, Capacity: 10}},
		{"full bus", models.Vehicle{ID: "B-3", Location: models.Coordinate{Lat: -33.9, Lng: 151.2}, Occupancy: 10, Capacity: 10, DelayMinutes: 30}},
		{"zero capacity", models.Vehicle{ID: "B-4", Location: models.Coordinate{Lat: 0, Lng: 0}, Occupancy: 0, Capacity: 0}},
		{"negative delay", models.Vehicle{ID: "B-5", Location: models.Coordinate{Lat: 1, Lng: 1}, Occupancy: 1, Capacity: 2, DelayMinutes: -4}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 500; i++ {
				r, ok := walk.Next(tc.vehicle)
				if !ok {
					t.Fatal("random walk skipped a vehicle")
				}
				if d := math.Abs(r.Location.Lat - tc.vehicle.Location.Lat); d > cfg.MaxCoordinateDelta+1e-12 {
					t.Fatalf("lat moved by %g, bound %g", d, cfg.MaxCoordinateDelta)
				}
				if d := math.Abs(r.Location.Lng - tc.vehicle.Location.Lng); d > cfg.MaxCoordinateDelta+1e-12 {
					t.Fatalf("lng moved by %g, bound %g", d, cfg.MaxCoordinateDelta)
				}
				if r.Occupancy < 0 || r.Occupancy > tc.vehicle.Capacity {
					t.Fatalf("occupancy %d outside [0, %d]", r.Occupancy, tc.vehicle.Capacity)
				}
				if d := r.Occupancy - tc.vehicle.Occupancy; d > cfg.MaxOccupancyDelta {
					t.Fatalf("occupancy grew by %d", d)
				}
				if r.DelayMinutes < 0 || r.DelayMinutes > cfg.MaxDelayMinutes {
					t.Fatalf("delay %d outside [0, %d]", r.DelayMinutes, cfg.MaxDelayMinutes)
				}
			}
		})
	}
}

func TestRandomWalkDeterministicSeed(t *testing.T) {
	v := models.Vehicle{ID: "B-1", Location: models.Coordinate{Lat: 10, Lng: 20}, Occupancy: 5, Capacity: 10}

	a := NewRandomWalk(DefaultWalkConfig(), 7)
	b := NewRandomWalk(DefaultWalkConfig(), 7)
	for i := 0; i < 20; i++ {
		ra, _ := a.Next(v)
		rb, _ := b.Next(v)
		if ra != rb {
			t.Fatalf("step %d differs: %+v vs %+v", i, ra, rb)
		}
	}
}

func TestRandomWalkZeroBounds(t *testing.T) {
	walk := NewRandomWalk(WalkConfig{}, 1)
	v := models.Vehicle{ID: "B-1", Location: models.Coordinate{Lat: 10, Lng: 20}, Occupancy: 5, Capacity: 10, DelayMinutes: 0}

	r, _ := walk.Next(v)
	if r.Location != v.Location || r.Occupancy != 5 || r.DelayMinutes != 0 {
		t.Errorf("zero bounds should not move the vehicle: %+v", r)
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
		{3, 0, -1, 0},
	}
	for _, tc := range tests {
		if got := clampInt(tc.v, tc.lo, tc.hi); got != tc.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, expected %d", tc.v, tc.lo, tc.hi, got, tc.want)
		}
	}
}
