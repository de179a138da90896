package models

import "time"

// EventTimeLayout is ISO-8601 in UTC with millisecond precision
const EventTimeLayout = "2006-01-02T15:04:05.000Z"

// UpdateEvent is the payload pushed to real-time subscribers after a vehicle moves.
// It is never persisted.
type UpdateEvent struct {
	VehicleID    string     `json:"busId"`
	RouteID      string     `json:"routeId"`
	Location     Coordinate `json:"location"`
	Passengers   int        `json:"passengers"`
	DelayMinutes int        `json:"delay"`
	Timestamp    string     `json:"timestamp"`
}

// ToUpdateEvent builds the broadcast payload for the vehicle's current state
func (v *Vehicle) ToUpdateEvent() UpdateEvent {
	return UpdateEvent{
		VehicleID:    v.ID,
		RouteID:      v.RouteID,
		Location:     v.Location,
		Passengers:   v.Occupancy,
		DelayMinutes: v.DelayMinutes,
		Timestamp:    FormatEventTime(v.UpdatedAt),
	}
}

// FormatEventTime renders t in EventTimeLayout
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(EventTimeLayout)
}
