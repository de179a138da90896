package models

import (
	"errors"
	"time"
)

// VehicleStatus is the operational status of a vehicle.
// Only the fleet admin tooling changes it; the simulation never does.
type VehicleStatus string

const (
	StatusActive      VehicleStatus = "active"
	StatusMaintenance VehicleStatus = "maintenance"
	StatusOffline     VehicleStatus = "offline"
)

// AllStatuses returns every supported vehicle status
func AllStatuses() []VehicleStatus {
	return []VehicleStatus{
		StatusActive,
		StatusMaintenance,
		StatusOffline,
	}
}

// Valid reports whether s is one of the known statuses
func (s VehicleStatus) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Coordinate is a WGS84 position in degrees
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
}

// Vehicle represents a single transit vehicle's current state from the vehicles table
type Vehicle struct {
	// Primary identifier
	ID string `db:"vehicle_id" json:"id" yaml:"id" validate:"required"`

	// Route association (exactly one route at a time)
	RouteID string `db:"route_id" json:"routeId" yaml:"route_id" validate:"required"`

	// Position
	Location Coordinate `json:"location" yaml:"location"`

	// Status
	Status VehicleStatus `db:"status" json:"status" yaml:"status" validate:"omitempty,oneof=active maintenance offline"`

	// Load
	Occupancy int `db:"occupancy" json:"occupancy" yaml:"occupancy" validate:"gte=0,ltefield=Capacity"`
	Capacity  int `db:"capacity" json:"capacity" yaml:"capacity" validate:"gte=0"`

	// Signed delay in minutes
	DelayMinutes int `db:"delay_minutes" json:"delayMinutes" yaml:"delay_minutes"`

	// Timestamps
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt" yaml:"-"`
}

// Validate checks if the Vehicle model has valid data
func (v *Vehicle) Validate() error {
	if v.ID == "" {
		return errors.New("vehicle id is required")
	}
	if v.RouteID == "" {
		return errors.New("route id is required")
	}
	if !v.Status.Valid() {
		return errors.New("status must be one of active, maintenance, offline")
	}

	if v.Location.Lat < -90 || v.Location.Lat > 90 {
		return errors.New("latitude out of range: must be between -90 and 90")
	}
	if v.Location.Lng < -180 || v.Location.Lng > 180 {
		return errors.New("longitude out of range: must be between -180 and 180")
	}

	if v.Capacity < 0 {
		return errors.New("capacity must not be negative")
	}
	if v.Occupancy < 0 || v.Occupancy > v.Capacity {
		return errors.New("occupancy must be between 0 and capacity")
	}

	return nil
}

// IsActive reports whether the simulation may move this vehicle
func (v *Vehicle) IsActive() bool {
	return v.Status == StatusActive
}

// VehicleUpdate carries the fields one tick overwrites.
// Nil fields are left untouched by the store.
type VehicleUpdate struct {
	Location     *Coordinate
	Occupancy    *int
	DelayMinutes *int
	UpdatedAt    *time.Time
}

// IsEmpty reports whether the update would change nothing
func (u VehicleUpdate) IsEmpty() bool {
	return u.Location == nil && u.Occupancy == nil && u.DelayMinutes == nil && u.UpdatedAt == nil
}

// Apply returns a copy of v with the non-nil fields of u applied
func (u VehicleUpdate) Apply(v Vehicle) Vehicle {
	if u.Location != nil {
		v.Location = *u.Location
	}
	if u.Occupancy != nil {
		v.Occupancy = *u.Occupancy
	}
	if u.DelayMinutes != nil {
		v.DelayMinutes = *u.DelayMinutes
	}
	if u.UpdatedAt != nil {
		v.UpdatedAt = *u.UpdatedAt
	}
	return v
}
