package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/mini-rodalies-3d/livebus/internal/db"
	"github.com/mini-rodalies-3d/livebus/internal/models"
)

const (
	defaultNearbyRadius = 500.0  // metres
	maxNearbyRadius     = 5000.0 // metres
)

// VehicleRepository defines the read operations the vehicle API needs
type VehicleRepository interface {
	ListVehicles(ctx context.Context, routeID string) ([]models.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
}

// VehicleHandler handles HTTP requests for vehicle state
type VehicleHandler struct {
	repo VehicleRepository
}

// NewVehicleHandler creates a new handler with the given repository
func NewVehicleHandler(repo VehicleRepository) *VehicleHandler {
	return &VehicleHandler{repo: repo}
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ListVehiclesResponse is the JSON response for GET /api/vehicles
type ListVehiclesResponse struct {
	Vehicles    []models.Vehicle `json:"vehicles"`
	Count       int              `json:"count"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// NearbyVehicle is one result of GET /api/vehicles/nearby
type NearbyVehicle struct {
	Vehicle        models.Vehicle `json:"vehicle"`
	DistanceMeters float64        `json:"distanceMeters"`
}

// NearbyVehiclesResponse is the JSON response for GET /api/vehicles/nearby
type NearbyVehiclesResponse struct {
	Center       models.Coordinate `json:"center"`
	RadiusMeters float64           `json:"radiusMeters"`
	Vehicles     []NearbyVehicle   `json:"vehicles"`
	Count        int               `json:"count"`
}

// ListVehicles handles GET /api/vehicles
// Returns all vehicles or filters by route_id query parameter
func (h *VehicleHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	h.writeVehicles(w, r, r.URL.Query().Get("route_id"))
}

// ListRouteVehicles handles GET /api/routes/{routeId}/vehicles
func (h *VehicleHandler) ListRouteVehicles(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeId")
	if routeID == "" {
		writeError(w, http.StatusBadRequest, "routeId parameter is required", nil)
		return
	}
	h.writeVehicles(w, r, routeID)
}

func (h *VehicleHandler) writeVehicles(w http.ResponseWriter, r *http.Request, routeID string) {
	vehicles, err := h.repo.ListVehicles(r.Context(), routeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve vehicles", map[string]any{
			"internal": err.Error(),
		})
		return
	}

	// Positions change every tick; keep caches short
	w.Header().Set("Cache-Control", "public, max-age=5")
	writeJSON(w, http.StatusOK, ListVehiclesResponse{
		Vehicles:    vehicles,
		Count:       len(vehicles),
		GeneratedAt: time.Now().UTC(),
	})
}

// GetVehicle handles GET /api/vehicles/{vehicleId}
func (h *VehicleHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleId")
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicleId parameter is required", nil)
		return
	}

	vehicle, err := h.repo.GetVehicle(r.Context(), vehicleID)
	if errors.Is(err, db.ErrVehicleNotFound) {
		writeError(w, http.StatusNotFound, "Vehicle not found", map[string]any{
			"vehicleId": vehicleID,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve vehicle", map[string]any{
			"internal": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, vehicle)
}

// GetNearbyVehicles handles GET /api/vehicles/nearby?lat=&lng=&radius=
// Returns vehicles within radius metres of the point, closest first
func (h *VehicleHandler) GetNearbyVehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(w, http.StatusBadRequest, "lat and lng must be valid coordinates", map[string]any{
			"lat": q.Get("lat"),
			"lng": q.Get("lng"),
		})
		return
	}

	radius := defaultNearbyRadius
	if raw := q.Get("radius"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed > maxNearbyRadius {
			writeError(w, http.StatusBadRequest, "radius must be between 0 and 5000 metres", map[string]any{
				"radius": raw,
			})
			return
		}
		radius = parsed
	}

	vehicles, err := h.repo.ListVehicles(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve vehicles", map[string]any{
			"internal": err.Error(),
		})
		return
	}

	center := orb.Point{lng, lat}
	nearby := []NearbyVehicle{}
	for _, v := range vehicles {
		d := geo.Distance(center, orb.Point{v.Location.Lng, v.Location.Lat})
		if d <= radius {
			nearby = append(nearby, NearbyVehicle{Vehicle: v, DistanceMeters: d})
		}
	}
	sort.Slice(nearby, func(i, j int) bool {
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})

	writeJSON(w, http.StatusOK, NearbyVehiclesResponse{
		Center:       models.Coordinate{Lat: lat, Lng: lng},
		RadiusMeters: radius,
		Vehicles:     nearby,
		Count:        len(nearby),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
