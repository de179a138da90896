package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PostgresDB is the Postgres-backed vehicle store
type PostgresDB struct {
	pool *pgxpool.Pool
}

// ConnectPostgres creates a connection pool and verifies it with a ping
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Connected to Postgres database")
	return &PostgresDB{pool: pool}, nil
}

// Close closes the pool
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}

// Ping checks that the database is reachable
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Backend names the storage engine
func (p *PostgresDB) Backend() string {
	return "postgres"
}

// EnsureSchema creates tables if they don't exist
func (p *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Println("Database schema ensured (from embedded schema_postgres.sql)")
	return nil
}

func scanPgVehicle(row pgx.Row) (models.Vehicle, error) {
	var v models.Vehicle
	var status string
	err := row.Scan(
		&v.ID,
		&v.RouteID,
		&v.Location.Lat,
		&v.Location.Lng,
		&status,
		&v.Occupancy,
		&v.Capacity,
		&v.DelayMinutes,
		&v.UpdatedAt,
	)
	v.Status = models.VehicleStatus(status)
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, err
}

func (p *PostgresDB) queryVehicles(ctx context.Context, query string, args ...any) ([]models.Vehicle, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	vehicles := []models.Vehicle{}
	for rows.Next() {
		v, err := scanPgVehicle(rows)
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
func (p *PostgresDB) FindActiveVehicles(ctx context.Context) ([]models.Vehicle, error) {
	return p.queryVehicles(ctx,
		"SELECT"+vehicleColumns+"FROM vehicles WHERE status = $1 ORDER BY vehicle_id",
		string(models.StatusActive),
	)
}

// ListVehicles returns all vehicles, or only those on routeID when it is non-empty
func (p *PostgresDB) ListVehicles(ctx context.Context, routeID string) ([]models.Vehicle, error) {
	if routeID == "" {
		return p.queryVehicles(ctx, "SELECT"+vehicleColumns+"FROM vehicles ORDER BY vehicle_id")
	}
	return p.queryVehicles(ctx,
		"SELECT"+vehicleColumns+"FROM vehicles WHERE route_id = $1 ORDER BY vehicle_id",
		routeID,
	)
}

// GetVehicle returns a single vehicle by id
func (p *PostgresDB) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	if id == "" {
		return nil, errors.New("vehicle id cannot be empty")
	}

	v, err := scanPgVehicle(p.pool.QueryRow(ctx, "SELECT"+vehicleColumns+"FROM vehicles WHERE vehicle_id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle %s: %w", id, err)
	}
	return &v, nil
}

// UpdateVehicle overwrites the non-nil fields of update on a single active vehicle row
func (p *PostgresDB) UpdateVehicle(ctx context.Context, id string, update models.VehicleUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Location != nil {
		add("latitude", update.Location.Lat)
		add("longitude", update.Location.Lng)
	}
	if update.Occupancy != nil {
		add("occupancy", *update.Occupancy)
	}
	if update.DelayMinutes != nil {
		add("delay_minutes", *update.DelayMinutes)
	}
	if update.UpdatedAt != nil {
		add("updated_at", update.UpdatedAt.UTC())
	}
	args = append(args, id, string(models.StatusActive))

	query := fmt.Sprintf("UPDATE vehicles SET %s WHERE vehicle_id = $%d AND status = $%d",
		strings.Join(sets, ", "), len(args)-1, len(args))
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update vehicle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := p.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM vehicles WHERE vehicle_id = $1)", id).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to query vehicle %s: %w", id, err)
		}
		if !exists {
			return notFound(id)
		}
		return notActive(id)
	}
	return nil
}

// SetVehicleStatus changes the operational status of a vehicle
func (p *PostgresDB) SetVehicleStatus(ctx context.Context, id string, status models.VehicleStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	tag, err := p.pool.Exec(ctx, "UPDATE vehicles SET status = $1 WHERE vehicle_id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set status for vehicle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// UpsertVehicles inserts or replaces vehicles (fleet seeding)
func (p *PostgresDB) UpsertVehicles(ctx context.Context, vehicles []models.Vehicle) error {
	if err := validateForUpsert(vehicles); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, v := range vehicles {
		updatedAt := v.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		batch.Queue(`
			INSERT INTO vehicles (
				vehicle_id, route_id, latitude, longitude, status,
				occupancy, capacity, delay_minutes, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (vehicle_id) DO UPDATE SET
				route_id = EXCLUDED.route_id,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				status = EXCLUDED.status,
				occupancy = EXCLUDED.occupancy,
				capacity = EXCLUDED.capacity,
				delay_minutes = EXCLUDED.delay_minutes,
				updated_at = EXCLUDED.updated_at
		`,
			v.ID, v.RouteID, v.Location.Lat, v.Location.Lng, string(v.Status),
			v.Occupancy, v.Capacity, v.DelayMinutes, updatedAt.UTC(),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert vehicles: %w", err)
	}
	return tx.Commit(ctx)
}

// RecordTick stores one tick's run metadata. A missing TickID is generated.
func (p *PostgresDB) RecordTick(ctx context.Context, record models.TickRecord) error {
	if record.TickID == "" {
		record.TickID = uuid.New().String()
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO sim_ticks (
			tick_id, source, started_at_utc, finished_at_utc,
			processed, failed, skipped, delivered
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.TickID, record.Source, record.StartedAt.UTC(), record.FinishedAt.UTC(),
		record.Processed, record.Failed, record.Skipped, record.Delivered,
	)
	if err != nil {
		return fmt.Errorf("failed to record tick: %w", err)
	}
	return nil
}

// LatestTick returns the most recently started tick, or nil if none was recorded
func (p *PostgresDB) LatestTick(ctx context.Context) (*models.TickRecord, error) {
	var r models.TickRecord
	err := p.pool.QueryRow(ctx, `
		SELECT tick_id::text, source, started_at_utc, finished_at_utc,
		       processed, failed, skipped, delivered
		FROM sim_ticks
		ORDER BY started_at_utc DESC
		LIMIT 1
	`).Scan(&r.TickID, &r.Source, &r.StartedAt, &r.FinishedAt, &r.Processed, &r.Failed, &r.Skipped, &r.Delivered)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest tick: %w", err)
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return &r, nil
}

// Cleanup deletes tick records older than the specified retention duration
func (p *PostgresDB) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM sim_ticks WHERE started_at_utc < $1", time.Now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sim_ticks: %w", err)
	}
	deleted := int(tag.RowsAffected())
	if deleted > 0 {
		log.Printf("Cleanup: deleted %d tick records older than %v", deleted, retention)
	}
	return deleted, nil
}
