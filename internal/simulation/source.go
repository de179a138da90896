package simulation

import (
	"context"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

// Reading is the next state a position source proposes for one vehicle
type Reading struct {
	Location     models.Coordinate
	Occupancy    int
	DelayMinutes int
}

// PositionSource produces the next position of each active vehicle.
// The random walk and the GTFS-Realtime feed both implement it, so the
// ticker and the router never know where positions come from.
type PositionSource interface {
	// Name identifies the source in logs and the tick log
	Name() string

	// Refresh is called once at the start of every tick
	Refresh(ctx context.Context) error

	// Next returns the new state for v. ok=false skips v for this tick.
	Next(v models.Vehicle) (reading Reading, ok bool)
}
