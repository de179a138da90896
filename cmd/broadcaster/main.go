package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mini-rodalies-3d/livebus/internal/broadcast"
	"github.com/mini-rodalies-3d/livebus/internal/config"
	"github.com/mini-rodalies-3d/livebus/internal/db"
	"github.com/mini-rodalies-3d/livebus/internal/handlers"
	"github.com/mini-rodalies-3d/livebus/internal/maintenance"
	"github.com/mini-rodalies-3d/livebus/internal/metrics"
	"github.com/mini-rodalies-3d/livebus/internal/realtime/gtfsrt"
	"github.com/mini-rodalies-3d/livebus/internal/simulation"
	"github.com/mini-rodalies-3d/livebus/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	log.SetPrefix("[BROADCASTER] ")
	log.Println("Starting live bus broadcaster...")

	// ═══════════════════════════════════════════════════════
	// PHASE 1: Configuration and tracing
	// ═══════════════════════════════════════════════════════
	config.LoadDotEnv(".")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded: tick_interval=%v, source=%s, retention=%v", cfg.TickInterval, cfg.PositionSource, cfg.RetentionDuration)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "livebus-broadcaster",
		ServiceVersion: version,
		Endpoint:       cfg.OTelEndpoint,
		Enabled:        cfg.OTelEnabled,
		PositionSource: cfg.PositionSource,
		SampleRatio:    cfg.OTelSampling,
	})
	if err != nil {
		log.Printf("Warning: tracing disabled: %v", err)
	}

	// ═══════════════════════════════════════════════════════
	// PHASE 2: Initialize Database
	// ═══════════════════════════════════════════════════════
	if !cfg.UsePostgres() {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
		log.Printf("Connecting to SQLite database: %s", cfg.DatabasePath)
	} else {
		log.Println("Connecting to Postgres database")
	}

	store, err := db.Open(ctx, cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized (%s)", store.Backend())

	// ═══════════════════════════════════════════════════════
	// PHASE 3: Position source and subscription router
	// ═══════════════════════════════════════════════════════
	source := newPositionSource(cfg)
	log.Printf("Position source: %s", source.Name())

	router := broadcast.NewRouter()
	wsServer := broadcast.NewServer(router, broadcast.ServerConfig{
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// ═══════════════════════════════════════════════════════
	// PHASE 4: Start simulation ticker and cleanup schedule
	// ═══════════════════════════════════════════════════════
	stats := metrics.NewTickStats()
	ticker := simulation.NewTicker(store, source, router, simulation.TickerConfig{
		Interval:     cfg.TickInterval,
		WriteTimeout: cfg.WriteTimeout,
		Recorder:     store,
		Stats:        stats,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker.Run(ctx)
	}()

	scheduler, err := maintenance.NewScheduler(store, cfg.CleanupSchedule, cfg.RetentionDuration)
	if err != nil {
		log.Fatalf("Failed to create cleanup scheduler: %v", err)
	}
	scheduler.Start()

	// ═══════════════════════════════════════════════════════
	// PHASE 5: HTTP server
	// ═══════════════════════════════════════════════════════
	vehicleHandler := handlers.NewVehicleHandler(store)
	healthHandler := handlers.NewHealthHandler(store, stats, router, source.Name())

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/health", healthHandler.GetHealth)
	r.Get("/ws", wsServer.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/vehicles", vehicleHandler.ListVehicles)
		r.Get("/vehicles/nearby", vehicleHandler.GetNearbyVehicles)
		r.Get("/vehicles/{vehicleId}", vehicleHandler.GetVehicle)
		r.Get("/routes/{routeId}/vehicles", vehicleHandler.ListRouteVehicles)
	})

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	go func() {
		log.Printf("Broadcaster listening on %s", cfg.Addr())
		log.Println("Endpoints:")
		log.Println("  GET /health")
		log.Println("  GET /ws (join.route, join.all, join.admin)")
		log.Println("  GET /api/vehicles?route_id={routeId}")
		log.Println("  GET /api/vehicles/nearby?lat={lat}&lng={lng}&radius={m}")
		log.Println("  GET /api/vehicles/{vehicleId}")
		log.Println("  GET /api/routes/{routeId}/vehicles")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// ═══════════════════════════════════════════════════════
	// PHASE 6: Graceful Shutdown
	// ═══════════════════════════════════════════════════════
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Stop ticking first; an in-flight vehicle write is allowed to complete
	cancel()
	wg.Wait()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	wsServer.Close()
	scheduler.Stop(shutdownCtx)

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
	log.Println("Goodbye!")
}

func newPositionSource(cfg *config.Config) simulation.PositionSource {
	if cfg.PositionSource == config.SourceGTFSRT {
		return gtfsrt.NewSource(gtfsrt.Config{
			VehiclePositionsURL: cfg.GTFSVehiclePositionsURL,
			TripUpdatesURL:      cfg.GTFSTripUpdatesURL,
			Timeout:             cfg.FeedTimeout,
		})
	}

	return simulation.NewRandomWalk(simulation.WalkConfig{
		MaxCoordinateDelta: cfg.MaxCoordinateDelta,
		MaxOccupancyDelta:  cfg.MaxOccupancyDelta,
		MaxDelayDelta:      cfg.MaxDelayDelta,
		MaxDelayMinutes:    cfg.MaxDelayMinutes,
	}, cfg.SimSeed)
}
