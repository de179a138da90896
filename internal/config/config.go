package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Position source names accepted by POSITION_SOURCE
const (
	SourceRandom = "random"
	SourceGTFSRT = "gtfsrt"
)

// Config holds all configuration for the broadcaster service
type Config struct {
	// HTTP
	Port            int           `env:"PORT" envDefault:"8081" validate:"gt=0,lte=65535"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	WSSendBuffer    int           `env:"WS_SEND_BUFFER" envDefault:"32" validate:"gt=0"`

	// Database (DATABASE_URL selects Postgres, otherwise SQLite)
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabasePath string `env:"SQLITE_DATABASE" envDefault:"data/livebus.db"`

	// Simulation ticker
	TickInterval      time.Duration `env:"TICK_INTERVAL" envDefault:"10s" validate:"gt=0"`
	WriteTimeout      time.Duration `env:"TICK_WRITE_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	RetentionDuration time.Duration `env:"TICK_RETENTION" envDefault:"24h" validate:"gt=0"`
	CleanupSchedule   string        `env:"CLEANUP_SCHEDULE" envDefault:"@every 1h" validate:"required"`

	// Position source
	PositionSource          string        `env:"POSITION_SOURCE" envDefault:"random" validate:"oneof=random gtfsrt"`
	GTFSVehiclePositionsURL string        `env:"GTFS_VEHICLE_POSITIONS_URL" validate:"omitempty,url"`
	GTFSTripUpdatesURL      string        `env:"GTFS_TRIP_UPDATES_URL" validate:"omitempty,url"`
	FeedTimeout             time.Duration `env:"GTFS_FEED_TIMEOUT" envDefault:"15s" validate:"gt=0"`

	// Random walk
	MaxCoordinateDelta float64 `env:"SIM_MAX_COORD_DELTA" envDefault:"0.0005" validate:"gte=0,lte=1"`
	MaxOccupancyDelta  int     `env:"SIM_MAX_OCCUPANCY_DELTA" envDefault:"1" validate:"gte=0"`
	MaxDelayDelta      int     `env:"SIM_MAX_DELAY_DELTA" envDefault:"1" validate:"gte=0"`
	MaxDelayMinutes    int     `env:"SIM_MAX_DELAY_MINUTES" envDefault:"30" validate:"gte=0"`
	SimSeed            uint64  `env:"SIM_SEED"`

	// Tracing
	OTelEndpoint string  `env:"LIVEBUS_OTEL_ENDPOINT"`
	OTelEnabled  bool    `env:"LIVEBUS_OTEL_ENABLED" envDefault:"true"`
	OTelSampling float64 `env:"LIVEBUS_OTEL_SAMPLE_RATIO" envDefault:"1" validate:"gt=0,lte=1"`
}

// LoadDotEnv loads .env then .env.local (which overrides for local development).
// Missing files are ignored.
func LoadDotEnv(dir string) {
	if dir == "" {
		dir = "."
	}
	_ = godotenv.Load(dir + "/.env")
	_ = godotenv.Overload(dir + "/.env.local")
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.PositionSource == SourceGTFSRT && c.GTFSVehiclePositionsURL == "" {
		return errors.New("invalid config: GTFS_VEHICLE_POSITIONS_URL is required when POSITION_SOURCE=gtfsrt")
	}
	if c.DatabaseURL == "" && c.DatabasePath == "" {
		return errors.New("invalid config: one of DATABASE_URL or SQLITE_DATABASE is required")
	}
	return nil
}

// UsePostgres reports whether the Postgres store is selected
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
