package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

var (
	// ErrVehicleNotFound is returned when no vehicle row matches the given id
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrVehicleNotActive is returned by UpdateVehicle when the row exists but
	// its status is no longer active
	ErrVehicleNotActive = errors.New("vehicle not active")
)

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the full storage contract shared by the SQLite and Postgres backends.
// Consumers should depend on the narrower interfaces they need.
type Store interface {
	Backend() string
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Close() error

	FindActiveVehicles(ctx context.Context) ([]models.Vehicle, error)
	UpdateVehicle(ctx context.Context, id string, update models.VehicleUpdate) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, routeID string) ([]models.Vehicle, error)
	UpsertVehicles(ctx context.Context, vehicles []models.Vehicle) error
	SetVehicleStatus(ctx context.Context, id string, status models.VehicleStatus) error

	RecordTick(ctx context.Context, record models.TickRecord) error
	LatestTick(ctx context.Context) (*models.TickRecord, error)
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*PostgresDB)(nil)
)

// Open connects to Postgres when databaseURL is set, otherwise to SQLite at sqlitePath,
// and ensures the schema exists.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	var (
		store Store
		err   error
	)
	if databaseURL != "" {
		store, err = ConnectPostgres(ctx, databaseURL)
	} else {
		store, err = Connect(sqlitePath)
	}
	if err != nil {
		return nil, err
	}

	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrVehicleNotFound, id)
}

func notActive(id string) error {
	return fmt.Errorf("%w: %s", ErrVehicleNotActive, id)
}

func validateForUpsert(vehicles []models.Vehicle) error {
	for i := range vehicles {
		if err := vehicles[i].Validate(); err != nil {
			return fmt.Errorf("invalid vehicle %q: %w", vehicles[i].ID, err)
		}
	}
	return nil
}
