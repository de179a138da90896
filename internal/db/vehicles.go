package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

const vehicleColumns = `
	vehicle_id,
	route_id,
	latitude,
	longitude,
	status,
	occupancy,
	capacity,
	delay_minutes,
	updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(row rowScanner) (models.Vehicle, error) {
	var v models.Vehicle
	var status, updatedAt string
	err := row.Scan(
		&v.ID,
		&v.RouteID,
		&v.Location.Lat,
		&v.Location.Lng,
		&status,
		&v.Occupancy,
		&v.Capacity,
		&v.DelayMinutes,
		&updatedAt,
	)
	if err != nil {
		return v, err
	}
	v.Status = models.VehicleStatus(status)
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return v, err
	}
	return v, nil
}

func (db *DB) queryVehicles(ctx context.Context, query string, args ...any) ([]models.Vehicle, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := []models.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle row: %w", err)
		}
		vehicles = append(vehicles, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vehicle rows: %w", err)
	}
	return vehicles, nil
}

// FindActiveVehicles returns every vehicle whose status is active
func (db *DB) FindActiveVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return db.queryVehicles(ctx,
		"SELECT"+vehicleColumns+"FROM vehicles WHERE status = ? ORDER BY vehicle_id",
		string(models.StatusActive),
	)
}

// ListVehicles returns all vehicles, or only those on routeID when it is non-empty
func (db *DB) ListVehicles(ctx context.Context, routeID string) ([]models.Vehicle, error) {
	if routeID == "" {
		return db.queryVehicles(ctx, "SELECT"+vehicleColumns+"FROM vehicles ORDER BY vehicle_id")
	}
	return db.queryVehicles(ctx,
		"SELECT"+vehicleColumns+"FROM vehicles WHERE route_id = ? ORDER BY vehicle_id",
		routeID,
	)
}

// GetVehicle returns a single vehicle by id
func (db *DB) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	if id == "" {
		return nil, errors.New("vehicle id cannot be empty")
	}

	row := db.conn.QueryRowContext(ctx, "SELECT"+vehicleColumns+"FROM vehicles WHERE vehicle_id = ?", id)
	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle %s: %w", id, err)
	}
	return &v, nil
}

// UpdateVehicle overwrites the non-nil fields of update on a single active
// vehicle row. A vehicle whose status changed since it was read is left alone.
func (db *DB) UpdateVehicle(ctx context.Context, id string, update models.VehicleUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	var sets []string
	var args []any
	if update.Location != nil {
		sets = append(sets, "latitude = ?", "longitude = ?")
		args = append(args, update.Location.Lat, update.Location.Lng)
	}
	if update.Occupancy != nil {
		sets = append(sets, "occupancy = ?")
		args = append(args, *update.Occupancy)
	}
	if update.DelayMinutes != nil {
		sets = append(sets, "delay_minutes = ?")
		args = append(args, *update.DelayMinutes)
	}
	if update.UpdatedAt != nil {
		sets = append(sets, "updated_at = ?")
		args = append(args, formatTime(*update.UpdatedAt))
	}
	args = append(args, id, string(models.StatusActive))

	db.LockWrite()
	defer db.UnlockWrite()

	result, err := db.conn.ExecContext(ctx,
		"UPDATE vehicles SET "+strings.Join(sets, ", ")+" WHERE vehicle_id = ? AND status = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update vehicle %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to retrieve update status: %w", err)
	}
	if affected == 0 {
		return db.missingOrInactive(ctx, id)
	}
	return nil
}

// missingOrInactive tells an unknown id apart from a vehicle that is no longer active
func (db *DB) missingOrInactive(ctx context.Context, id string) error {
	var exists int
	err := db.conn.QueryRowContext(ctx, "SELECT 1 FROM vehicles WHERE vehicle_id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(id)
	}
	if err != nil {
		return fmt.Errorf("failed to query vehicle %s: %w", id, err)
	}
	return notActive(id)
}

// SetVehicleStatus changes the operational status of a vehicle
func (db *DB) SetVehicleStatus(ctx context.Context, id string, status models.VehicleStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	db.LockWrite()
	defer db.UnlockWrite()

	result, err := db.conn.ExecContext(ctx,
		"UPDATE vehicles SET status = ? WHERE vehicle_id = ?",
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set status for vehicle %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to retrieve update status: %w", err)
	}
	if affected == 0 {
		return notFound(id)
	}
	return nil
}

// UpsertVehicles inserts or replaces vehicles (fleet seeding)
func (db *DB) UpsertVehicles(ctx context.Context, vehicles []models.Vehicle) error {
	if err := validateForUpsert(vehicles); err != nil {
		return err
	}

	db.LockWrite()
	defer db.UnlockWrite()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicles (
			vehicle_id, route_id, latitude, longitude, status,
			occupancy, capacity, delay_minutes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			route_id = excluded.route_id,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			status = excluded.status,
			occupancy = excluded.occupancy,
			capacity = excluded.capacity,
			delay_minutes = excluded.delay_minutes,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, v := range vehicles {
		updatedAt := v.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		_, err := stmt.ExecContext(ctx,
			v.ID, v.RouteID, v.Location.Lat, v.Location.Lng, string(v.Status),
			v.Occupancy, v.Capacity, v.DelayMinutes, formatTime(updatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert vehicle %s: %w", v.ID, err)
		}
	}

	return tx.Commit()
}
