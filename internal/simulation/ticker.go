package simulation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mini-rodalies-3d/livebus/internal/db"
	"github.com/mini-rodalies-3d/livebus/internal/metrics"
	"github.com/mini-rodalies-3d/livebus/internal/models"
)

const tracerName = "github.com/mini-rodalies-3d/livebus/internal/simulation"

// VehicleStore is the part of the store the ticker reads and writes
type VehicleStore interface {
	FindActiveVehicles(ctx context.Context) ([]models.Vehicle, error)
	UpdateVehicle(ctx context.Context, id string, update models.VehicleUpdate) error
}

// TickRecorder persists per-tick run metadata
type TickRecorder interface {
	RecordTick(ctx context.Context, record models.TickRecord) error
}

// Publisher fans an update event out to subscribers and reports how many
// deliveries succeeded
type Publisher interface {
	Publish(event models.UpdateEvent) int
}

// TickerConfig holds the ticker's cadence and optional collaborators
type TickerConfig struct {
	Interval     time.Duration
	WriteTimeout time.Duration

	Recorder TickRecorder       // optional
	Stats    *metrics.TickStats // optional

	// Now is overridable in tests
	Now func() time.Time
}

// TickResult summarises one tick
type TickResult struct {
	Processed int // written and published
	Failed    int // store write failed
	Skipped   int // source had no reading, or no longer active
	Delivered int // successful subscriber deliveries
}

// Ticker advances every active vehicle on a fixed interval, persists the
// new state and publishes one update event per vehicle.
type Ticker struct {
	store  VehicleStore
	source PositionSource
	pub    Publisher
	cfg    TickerConfig
	tracer trace.Tracer
}

// NewTicker creates a ticker. Zero durations fall back to 10s interval
// and 5s write timeout.
func NewTicker(store VehicleStore, source PositionSource, pub Publisher, cfg TickerConfig) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ticker{
		store:  store,
		source: source,
		pub:    pub,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Run ticks every interval until ctx is cancelled. The first tick fires
// one interval after Run starts.
func (t *Ticker) Run(ctx context.Context) {
	log.Printf("Ticker: running every %v (source=%s)", t.cfg.Interval, t.source.Name())

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Tick(ctx)
		case <-ctx.Done():
			log.Println("Ticker: stopped")
			return
		}
	}
}

// Tick runs one simulation step. Per-vehicle failures are logged and
// counted; they never abort the rest of the tick.
func (t *Ticker) Tick(ctx context.Context) TickResult {
	var result TickResult
	started := t.cfg.Now()

	ctx, span := t.tracer.Start(ctx, "simulation.tick",
		trace.WithAttributes(attribute.String("source", t.source.Name())))
	defer span.End()

	defer func() {
		t.finish(ctx, started, result)
		span.SetAttributes(
			attribute.Int("tick.processed", result.Processed),
			attribute.Int("tick.failed", result.Failed),
			attribute.Int("tick.skipped", result.Skipped),
			attribute.Int("tick.delivered", result.Delivered),
		)
	}()

	if err := t.source.Refresh(ctx); err != nil {
		log.Printf("Ticker: %s source refresh failed: %v", t.source.Name(), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "source refresh failed")
		return result
	}

	vehicles, err := t.store.FindActiveVehicles(ctx)
	if err != nil {
		log.Printf("Ticker: failed to load active vehicles: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load active vehicles failed")
		return result
	}

	for _, v := range vehicles {
		// Writes already started finish; no new vehicle starts after cancel.
		if ctx.Err() != nil {
			log.Printf("Ticker: cancelled after %d of %d vehicles", result.Processed+result.Failed+result.Skipped, len(vehicles))
			break
		}

		if !v.IsActive() {
			result.Skipped++
			continue
		}

		reading, ok := t.source.Next(v)
		if !ok {
			result.Skipped++
			continue
		}

		update := t.buildUpdate(v, reading)
		err := t.write(ctx, v.ID, update)
		if errors.Is(err, db.ErrVehicleNotActive) {
			// Status changed since the vehicle was loaded
			result.Skipped++
			continue
		}
		if err != nil {
			log.Printf("Ticker: failed to update vehicle %s: %v", v.ID, err)
			result.Failed++
			continue
		}

		moved := update.Apply(v)
		result.Delivered += t.pub.Publish(moved.ToUpdateEvent())
		result.Processed++
	}

	if result.Failed > 0 {
		span.SetStatus(codes.Error, "some vehicle updates failed")
	}
	return result
}

func (t *Ticker) buildUpdate(v models.Vehicle, r Reading) models.VehicleUpdate {
	loc := r.Location
	occupancy := clampInt(r.Occupancy, 0, v.Capacity)
	delay := r.DelayMinutes
	updatedAt := nextTimestamp(t.cfg.Now(), v.UpdatedAt)

	return models.VehicleUpdate{
		Location:     &loc,
		Occupancy:    &occupancy,
		DelayMinutes: &delay,
		UpdatedAt:    &updatedAt,
	}
}

func (t *Ticker) write(ctx context.Context, id string, update models.VehicleUpdate) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.WriteTimeout)
	defer cancel()
	return t.store.UpdateVehicle(writeCtx, id, update)
}

func (t *Ticker) finish(ctx context.Context, started time.Time, result TickResult) {
	finished := t.cfg.Now()

	if t.cfg.Stats != nil {
		t.cfg.Stats.Record(finished, finished.Sub(started), result.Processed, result.Failed)
	}

	if t.cfg.Recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.WriteTimeout)
		defer cancel()

		err := t.cfg.Recorder.RecordTick(recordCtx, models.TickRecord{
			TickID:     uuid.New().String(),
			Source:     t.source.Name(),
			StartedAt:  started,
			FinishedAt: finished,
			Processed:  result.Processed,
			Failed:     result.Failed,
			Skipped:    result.Skipped,
			Delivered:  result.Delivered,
		})
		if err != nil {
			log.Printf("Ticker: failed to record tick: %v", err)
		}
	}

	if result.Failed > 0 {
		log.Printf("Ticker: processed=%d failed=%d skipped=%d delivered=%d", result.Processed, result.Failed, result.Skipped, result.Delivered)
	}
}

// nextTimestamp returns now at microsecond precision, bumped past previous
// so a vehicle's timestamps strictly increase across ticks.
func nextTimestamp(now, previous time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !ts.After(previous) {
		ts = previous.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return ts
}
