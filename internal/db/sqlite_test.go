package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Connect(filepath.Join(t.TempDir(), "livebus.db"))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("Failed to ensure schema: %v", err)
	}
	return database
}

func seedFleet(t *testing.T, database *DB) {
	t.Helper()

	updatedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	vehicles := []models.Vehicle{
		{ID: "B-1", RouteID: "R1", Location: models.Coordinate{Lat: 10, Lng: 20}, Status: models.StatusActive, Occupancy: 5, Capacity: 10, UpdatedAt: updatedAt},
		{ID: "B-2", RouteID: "R1", Location: models.Coordinate{Lat: 11, Lng: 21}, Status: models.StatusMaintenance, Occupancy: 0, Capacity: 40, UpdatedAt: updatedAt},
		{ID: "B-3", RouteID: "R2", Location: models.Coordinate{Lat: 12, Lng: 22}, Status: models.StatusActive, Occupancy: 30, Capacity: 40, DelayMinutes: 3, UpdatedAt: updatedAt},
		{ID: "B-4", RouteID: "R2", Location: models.Coordinate{Lat: 13, Lng: 23}, Status: models.StatusOffline, Occupancy: 0, Capacity: 40, UpdatedAt: updatedAt},
	}
	if err := database.UpsertVehicles(context.Background(), vehicles); err != nil {
		t.Fatalf("UpsertVehicles failed: %v", err)
	}
}

func TestFindActiveVehicles(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)

	vehicles, err := database.FindActiveVehicles(context.Background())
	if err != nil {
		t.Fatalf("FindActiveVehicles failed: %v", err)
	}

	if len(vehicles) != 2 {
		t.Fatalf("expected 2 active vehicles, got %d", len(vehicles))
	}
	if vehicles[0].ID != "B-1" || vehicles[1].ID != "B-3" {
		t.Errorf("unexpected active vehicles: %s, %s", vehicles[0].ID, vehicles[1].ID)
	}
	for _, v := range vehicles {
		if !v.IsActive() {
			t.Errorf("vehicle %s is not active", v.ID)
		}
	}
	if vehicles[1].DelayMinutes != 3 || vehicles[1].Occupancy != 30 {
		t.Errorf("B-3 fields not round-tripped: %+v", vehicles[1])
	}
}

func TestListVehicles(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)
	ctx := context.Background()

	tests := []struct {
		name    string
		routeID string
		want    int
	}{
		{"all routes", "", 4},
		{"route R1", "R1", 2},
		{"route R2", "R2", 2},
		{"unknown route", "R9", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			vehicles, err := database.ListVehicles(ctx, tc.routeID)
			if err != nil {
				t.Fatalf("ListVehicles failed: %v", err)
			}
			if len(vehicles) != tc.want {
				t.Errorf("ListVehicles(%q) returned %d vehicles, expected %d", tc.routeID, len(vehicles), tc.want)
			}
			if vehicles == nil {
				t.Error("ListVehicles returned nil slice, expected empty slice")
			}
		})
	}
}

func TestUpdateVehiclePartial(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)
	ctx := context.Background()

	occupancy := 7
	updatedAt := time.Date(2025, 3, 1, 10, 0, 10, 123456000, time.UTC)
	err := database.UpdateVehicle(ctx, "B-1", models.VehicleUpdate{
		Occupancy: &occupancy,
		UpdatedAt: &updatedAt,
	})
	if err != nil {
		t.Fatalf("UpdateVehicle failed: %v", err)
	}

	v, err := database.GetVehicle(ctx, "B-1")
	if err != nil {
		t.Fatalf("GetVehicle failed: %v", err)
	}
	if v.Occupancy != 7 {
		t.Errorf("Occupancy = %d, expected 7", v.Occupancy)
	}
	if !v.UpdatedAt.Equal(updatedAt) {
		t.Errorf("UpdatedAt = %v, expected %v", v.UpdatedAt, updatedAt)
	}
	// Fields not in the update stay as seeded
	if v.Location != (models.Coordinate{Lat: 10, Lng: 20}) {
		t.Errorf("Location changed to %+v", v.Location)
	}
	if v.Status != models.StatusActive || v.Capacity != 10 {
		t.Errorf("unexpected status/capacity: %s %d", v.Status, v.Capacity)
	}
}

func TestUpdateVehicleLocation(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)
	ctx := context.Background()

	loc := models.Coordinate{Lat: 10.0004, Lng: 19.9996}
	delay := 2
	if err := database.UpdateVehicle(ctx, "B-3", models.VehicleUpdate{Location: &loc, DelayMinutes: &delay}); err != nil {
		t.Fatalf("UpdateVehicle failed: %v", err)
	}

	v, err := database.GetVehicle(ctx, "B-3")
	if err != nil {
		t.Fatalf("GetVehicle failed: %v", err)
	}
	if v.Location != loc {
		t.Errorf("Location = %+v, expected %+v", v.Location, loc)
	}
	if v.DelayMinutes != 2 {
		t.Errorf("DelayMinutes = %d, expected 2", v.DelayMinutes)
	}
	if v.Occupancy != 30 {
		t.Errorf("Occupancy changed to %d", v.Occupancy)
	}
}

func TestUpdateVehicleNotFound(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)

	occupancy := 1
	err := database.UpdateVehicle(context.Background(), "missing", models.VehicleUpdate{Occupancy: &occupancy})
	if !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound, got %v", err)
	}

	// An empty update is a no-op even for unknown ids
	if err := database.UpdateVehicle(context.Background(), "missing", models.VehicleUpdate{}); err != nil {
		t.Errorf("empty update returned error: %v", err)
	}
}

func TestUpdateVehicleNotActive(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)
	ctx := context.Background()

	before, err := database.GetVehicle(ctx, "B-1")
	if err != nil {
		t.Fatalf("GetVehicle failed: %v", err)
	}

	// Status flips after the vehicle was read as active
	if err := database.SetVehicleStatus(ctx, "B-1", models.StatusMaintenance); err != nil {
		t.Fatalf("SetVehicleStatus failed: %v", err)
	}

	loc := models.Coordinate{Lat: 41.5, Lng: 2.5}
	delay := 7
	err = database.UpdateVehicle(ctx, "B-1", models.VehicleUpdate{Location: &loc, DelayMinutes: &delay})
	if !errors.Is(err, ErrVehicleNotActive) {
		t.Fatalf("expected ErrVehicleNotActive, got %v", err)
	}
	if errors.Is(err, ErrVehicleNotFound) {
		t.Error("inactive vehicle reported as not found")
	}

	after, err := database.GetVehicle(ctx, "B-1")
	if err != nil {
		t.Fatalf("GetVehicle failed: %v", err)
	}
	if after.Location != before.Location || after.DelayMinutes != before.DelayMinutes {
		t.Errorf("maintenance vehicle was modified: before=%+v after=%+v", before, after)
	}
}

func TestGetVehicleNotFound(t *testing.T) {
	database := setupTestDB(t)

	_, err := database.GetVehicle(context.Background(), "nope")
	if !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("expected ErrVehicleNotFound, got %v", err)
	}

	if _, err := database.GetVehicle(context.Background(), ""); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestSetVehicleStatus(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)
	ctx := context.Background()

	if err := database.SetVehicleStatus(ctx, "B-1", models.StatusMaintenance); err != nil {
		t.Fatalf("SetVehicleStatus failed: %v", err)
	}
	if err := database.SetVehicleStatus(ctx, "B-4", models.StatusActive); err != nil {
		t.Fatalf("SetVehicleStatus failed: %v", err)
	}

	active, err := database.FindActiveVehicles(ctx)
	if err != nil {
		t.Fatalf("FindActiveVehicles failed: %v", err)
	}
	if len(active) != 2 || active[0].ID != "B-3" || active[1].ID != "B-4" {
		t.Errorf("unexpected active set after status change: %+v", active)
	}

	if err := database.SetVehicleStatus(ctx, "B-1", "parked"); err == nil {
		t.Error("expected error for invalid status")
	}
	if err := database.SetVehicleStatus(ctx, "missing", models.StatusOffline); !errors.Is(err, ErrVehicleNotFound) {
		t.Errorf("expected ErrVehicleNotFound, got %v", err)
	}
}

func TestUpsertVehicles(t *testing.T) {
	database := setupTestDB(t)
	seedFleet(t, database)
	ctx := context.Background()

	// Re-seeding replaces the row instead of duplicating it
	err := database.UpsertVehicles(ctx, []models.Vehicle{
		{ID: "B-1", RouteID: "R7", Location: models.Coordinate{Lat: 41.38, Lng: 2.17}, Status: models.StatusActive, Occupancy: 1, Capacity: 50},
	})
	if err != nil {
		t.Fatalf("UpsertVehicles failed: %v", err)
	}

	v, err := database.GetVehicle(ctx, "B-1")
	if err != nil {
		t.Fatalf("GetVehicle failed: %v", err)
	}
	if v.RouteID != "R7" || v.Capacity != 50 {
		t.Errorf("upsert did not replace row: %+v", v)
	}
	if v.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should default to now when zero")
	}

	all, _ := database.ListVehicles(ctx, "")
	if len(all) != 4 {
		t.Errorf("expected 4 vehicles after upsert, got %d", len(all))
	}

	err = database.UpsertVehicles(ctx, []models.Vehicle{
		{ID: "B-9", RouteID: "R1", Status: models.StatusActive, Occupancy: 11, Capacity: 10},
	})
	if err == nil {
		t.Error("expected validation error for occupancy above capacity")
	}
	if _, err := database.GetVehicle(ctx, "B-9"); !errors.Is(err, ErrVehicleNotFound) {
		t.Error("invalid vehicle should not have been written")
	}
}

func TestRecordTickAndLatest(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	latest, err := database.LatestTick(ctx)
	if err != nil {
		t.Fatalf("LatestTick failed: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no tick, got %+v", latest)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	records := []models.TickRecord{
		{Source: "random", StartedAt: base.Add(-20 * time.Second), FinishedAt: base.Add(-19 * time.Second), Processed: 3},
		{TickID: "fixed-id", Source: "random", StartedAt: base, FinishedAt: base.Add(250 * time.Millisecond), Processed: 4, Failed: 1, Delivered: 12},
	}
	for _, r := range records {
		if err := database.RecordTick(ctx, r); err != nil {
			t.Fatalf("RecordTick failed: %v", err)
		}
	}

	latest, err = database.LatestTick(ctx)
	if err != nil {
		t.Fatalf("LatestTick failed: %v", err)
	}
	if latest == nil {
		t.Fatal("expected a tick record")
	}
	if latest.TickID != "fixed-id" {
		t.Errorf("TickID = %q, expected fixed-id", latest.TickID)
	}
	if latest.Processed != 4 || latest.Failed != 1 || latest.Delivered != 12 {
		t.Errorf("unexpected counters: %+v", latest)
	}
	if latest.Duration() != 250*time.Millisecond {
		t.Errorf("Duration = %v, expected 250ms", latest.Duration())
	}
}

func TestCleanup(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour, time.Minute} {
		started := now.Add(-age)
		if err := database.RecordTick(ctx, models.TickRecord{Source: "random", StartedAt: started, FinishedAt: started}); err != nil {
			t.Fatalf("RecordTick failed: %v", err)
		}
	}

	deleted, err := database.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Cleanup deleted %d records, expected 2", deleted)
	}

	deleted, err = database.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("second Cleanup deleted %d records, expected 0", deleted)
	}
}

func TestOpenSelectsSQLite(t *testing.T) {
	store, err := Open(context.Background(), "", filepath.Join(t.TempDir(), "open.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if store.Backend() != "sqlite" {
		t.Errorf("Backend = %q, expected sqlite", store.Backend())
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
