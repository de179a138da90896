package fleet

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/mini-rodalies-3d/livebus/internal/models"
)

// BuildOptions controls how simulated vehicles are generated from a GTFS feed
type BuildOptions struct {
	PerRoute int // vehicles per route
	Capacity int
	Status   models.VehicleStatus // defaults to active
}

// BuildFromGTFS creates PerRoute vehicles on every route that has a trip with
// at least one located stop. Vehicles are spread evenly along the polyline of
// the route's first trip; ids are "<route_id>-<n>".
func BuildFromGTFS(feed *Feed, opts BuildOptions) ([]models.Vehicle, error) {
	if opts.PerRoute <= 0 {
		return nil, errors.New("per-route vehicle count must be positive")
	}
	if opts.Capacity < 0 {
		return nil, errors.New("capacity must not be negative")
	}
	if opts.Status == "" {
		opts.Status = models.StatusActive
	}
	if !opts.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", opts.Status)
	}

	firstTrip := make(map[string]string)
	for _, trip := range feed.Trips {
		if _, ok := firstTrip[trip.RouteID]; !ok {
			firstTrip[trip.RouteID] = trip.TripID
		}
	}

	routes := append([]Route(nil), feed.Routes...)
	sort.Slice(routes, func(i, j int) bool { return routes[i].RouteID < routes[j].RouteID })

	var vehicles []models.Vehicle
	for _, route := range routes {
		line := feed.tripLine(firstTrip[route.RouteID])
		if len(line) == 0 {
			log.Printf("Fleet: skipping route %s (no located stops)", route.RouteID)
			continue
		}

		for i, point := range spreadAlong(line, opts.PerRoute) {
			vehicles = append(vehicles, models.Vehicle{
				ID:        fmt.Sprintf("%s-%d", route.RouteID, i+1),
				RouteID:   route.RouteID,
				Location:  models.Coordinate{Lat: point.Lat(), Lng: point.Lon()},
				Status:    opts.Status,
				Capacity:  opts.Capacity,
				Occupancy: 0,
			})
		}
	}

	return vehicles, nil
}

// tripLine returns the trip's stops as a line string, skipping stops
// without coordinates
func (f *Feed) tripLine(tripID string) orb.LineString {
	if tripID == "" {
		return nil
	}

	var line orb.LineString
	for _, st := range f.StopTimes[tripID] {
		stop, ok := f.Stops[st.StopID]
		if !ok {
			continue
		}
		line = append(line, orb.Point{stop.Lon, stop.Lat})
	}
	return line
}

// spreadAlong returns n points evenly spaced by distance along line,
// starting at its first point
func spreadAlong(line orb.LineString, n int) []orb.Point {
	points := make([]orb.Point, 0, n)

	length := geo.Length(line)
	if len(line) == 1 || length == 0 {
		for i := 0; i < n; i++ {
			points = append(points, line[0])
		}
		return points
	}

	step := length / float64(n)
	for i := 0; i < n; i++ {
		p, _ := geo.PointAtDistanceAlongLine(line, step*float64(i))
		points = append(points, p)
	}
	return points
}
