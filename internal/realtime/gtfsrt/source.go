package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/mini-rodalies-3d/livebus/internal/models"
	"github.com/mini-rodalies-3d/livebus/internal/simulation"
)

// occupancyStatusLoad maps the GTFS-RT OccupancyStatus enum to a load factor
var occupancyStatusLoad = map[int32]float64{
	0: 0.0,  // EMPTY
	1: 0.25, // MANY_SEATS_AVAILABLE
	2: 0.6,  // FEW_SEATS_AVAILABLE
	3: 0.85, // STANDING_ROOM_ONLY
	4: 0.95, // CRUSHED_STANDING_ROOM_ONLY
	5: 1.0,  // FULL
	6: 1.0,  // NOT_ACCEPTING_PASSENGERS
}

// Config holds the feed endpoints
type Config struct {
	VehiclePositionsURL string
	TripUpdatesURL      string // optional, used for delays
	Timeout             time.Duration
}

// FeedVehicle is one vehicle as reported by the last VehiclePositions feed
type FeedVehicle struct {
	VehicleKey   string
	TripID       string
	Location     models.Coordinate
	LoadFactor   *float64 // 0..1
	DelaySeconds *int
}

// Source is a PositionSource backed by a GTFS-Realtime feed. Vehicles are
// matched on the GTFS vehicle id (or label) equal to the fleet vehicle id.
type Source struct {
	cfg    Config
	client *http.Client

	mu       sync.RWMutex
	vehicles map[string]FeedVehicle
}

var _ simulation.PositionSource = (*Source)(nil)

// NewSource creates a feed-backed position source
func NewSource(cfg Config) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Source{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		vehicles: make(map[string]FeedVehicle),
	}
}

// Name implements simulation.PositionSource
func (s *Source) Name() string {
	return "gtfsrt"
}

// Refresh downloads the feeds and replaces the current snapshot.
// A failed trip updates fetch is not fatal; vehicles just keep their delay.
func (s *Source) Refresh(ctx context.Context) error {
	vehicles, err := s.fetchVehiclePositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch vehicle positions: %w", err)
	}

	if s.cfg.TripUpdatesURL != "" {
		delays, err := s.fetchTripDelays(ctx)
		if err != nil {
			log.Printf("GTFS-RT: failed to fetch trip updates (continuing without delays): %v", err)
		} else {
			for key, v := range vehicles {
				if d, ok := delays[v.TripID]; ok && v.TripID != "" {
					v.DelaySeconds = &d
					vehicles[key] = v
				}
			}
		}
	}

	s.mu.Lock()
	s.vehicles = vehicles
	s.mu.Unlock()

	log.Printf("GTFS-RT: feed has %d vehicles", len(vehicles))
	return nil
}

// Next implements simulation.PositionSource
func (s *Source) Next(v models.Vehicle) (simulation.Reading, bool) {
	s.mu.RLock()
	fv, ok := s.vehicles[v.ID]
	s.mu.RUnlock()
	if !ok {
		return simulation.Reading{}, false
	}

	reading := simulation.Reading{
		Location:     fv.Location,
		Occupancy:    v.Occupancy,
		DelayMinutes: v.DelayMinutes,
	}
	if fv.LoadFactor != nil {
		reading.Occupancy = int(math.Round(*fv.LoadFactor * float64(v.Capacity)))
	}
	if fv.DelaySeconds != nil {
		reading.DelayMinutes = max(0, *fv.DelaySeconds/60)
	}
	return reading, true
}

// fetchVehiclePositions fetches and parses the vehicle positions feed
func (s *Source) fetchVehiclePositions(ctx context.Context) (map[string]FeedVehicle, error) {
	feed, err := s.fetchFeed(ctx, s.cfg.VehiclePositionsURL)
	if err != nil {
		return nil, err
	}

	vehicles := make(map[string]FeedVehicle)
	for _, entity := range feed.Entity {
		vehicle := entity.GetVehicle()
		if vehicle == nil || vehicle.Position == nil {
			continue
		}

		key := vehicleKey(entity, vehicle)
		if key == "" {
			continue
		}

		fv := FeedVehicle{
			VehicleKey: key,
			TripID:     vehicle.GetTrip().GetTripId(),
			Location: models.Coordinate{
				Lat: float64(vehicle.Position.GetLatitude()),
				Lng: float64(vehicle.Position.GetLongitude()),
			},
		}

		// Percentage wins over the coarser status enum
		if vehicle.OccupancyPercentage != nil {
			load := min(float64(*vehicle.OccupancyPercentage)/100, 1)
			fv.LoadFactor = &load
		} else if vehicle.OccupancyStatus != nil {
			if load, ok := occupancyStatusLoad[int32(*vehicle.OccupancyStatus)]; ok {
				fv.LoadFactor = &load
			}
		}

		vehicles[key] = fv
	}

	return vehicles, nil
}

// vehicleKey prefers the descriptor id, then its label, then the entity id
func vehicleKey(entity *gtfs.FeedEntity, vehicle *gtfs.VehiclePosition) string {
	if id := vehicle.GetVehicle().GetId(); id != "" {
		return id
	}
	if label := vehicle.GetVehicle().GetLabel(); label != "" {
		return label
	}
	return entity.GetId()
}

// fetchTripDelays returns the current delay in seconds per trip id. The
// trip-level delay is used when present, otherwise the first stop time
// update that carries one.
func (s *Source) fetchTripDelays(ctx context.Context) (map[string]int, error) {
	feed, err := s.fetchFeed(ctx, s.cfg.TripUpdatesURL)
	if err != nil {
		return nil, err
	}

	delays := make(map[string]int)
	for _, entity := range feed.Entity {
		tripUpdate := entity.GetTripUpdate()
		tripID := tripUpdate.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}

		if tripUpdate.Delay != nil {
			delays[tripID] = int(*tripUpdate.Delay)
			continue
		}

		for _, stu := range tripUpdate.StopTimeUpdate {
			if stu.GetArrival() != nil && stu.Arrival.Delay != nil {
				delays[tripID] = int(*stu.Arrival.Delay)
				break
			}
			if stu.GetDeparture() != nil && stu.Departure.Delay != nil {
				delays[tripID] = int(*stu.Departure.Delay)
				break
			}
		}
	}

	return delays, nil
}

// fetchFeed fetches a GTFS-RT feed from the given URL
func (s *Source) fetchFeed(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	feed := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}

	return feed, nil
}
