package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/mini-rodalies-3d/livebus/internal/metrics"
	"github.com/mini-rodalies-3d/livebus/internal/models"
)

// StatusRepository defines the store checks used by /health
type StatusRepository interface {
	Backend() string
	Ping(ctx context.Context) error
	LatestTick(ctx context.Context) (*models.TickRecord, error)
}

// TickStatsProvider exposes running tick statistics
type TickStatsProvider interface {
	Snapshot() metrics.TickStatsSnapshot
}

// ChannelStatsProvider exposes subscription router membership counts
type ChannelStatsProvider interface {
	Stats() map[string]int
	Subscribers() int
}

// HealthHandler reports store reachability and broadcaster activity
type HealthHandler struct {
	repo     StatusRepository
	ticks    TickStatsProvider
	channels ChannelStatsProvider
	source   string
}

// NewHealthHandler creates a health handler. ticks and channels may be nil.
func NewHealthHandler(repo StatusRepository, ticks TickStatsProvider, channels ChannelStatsProvider, source string) *HealthHandler {
	return &HealthHandler{repo: repo, ticks: ticks, channels: channels, source: source}
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status         string                     `json:"status"`
	Database       string                     `json:"database"`
	Backend        string                     `json:"backend"`
	PositionSource string                     `json:"positionSource,omitempty"`
	LastTick       *models.TickRecord         `json:"lastTick,omitempty"`
	TickStats      *metrics.TickStatsSnapshot `json:"tickStats,omitempty"`
	Channels       map[string]int             `json:"channels,omitempty"`
	Subscribers    int                        `json:"subscribers"`
	Timestamp      time.Time                  `json:"timestamp"`
	Error          string                     `json:"error,omitempty"`
}

// GetHealth handles GET /health
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:         "ok",
		Database:       "connected",
		Backend:        h.repo.Backend(),
		PositionSource: h.source,
		Timestamp:      time.Now().UTC(),
	}

	if h.channels != nil {
		resp.Channels = h.channels.Stats()
		resp.Subscribers = h.channels.Subscribers()
	}
	if h.ticks != nil {
		snapshot := h.ticks.Snapshot()
		resp.TickStats = &snapshot
	}

	if err := h.repo.Ping(ctx); err != nil {
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	// A missing tick log is not fatal for health
	if tick, err := h.repo.LatestTick(ctx); err == nil {
		resp.LastTick = tick
	}

	writeJSON(w, http.StatusOK, resp)
}
