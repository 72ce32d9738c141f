// README: Entry point; loads config, wires services, starts the HTTP server and shuts down on signal.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"navi/internal/ai"
	"navi/internal/config"
	httptransport "navi/internal/http"
	"navi/internal/infra"
	"navi/internal/maps"
	"navi/internal/modules/location"
	"navi/internal/modules/navigation"
	"navi/internal/modules/quota"
	"navi/internal/positioning"
	"navi/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dbPool *pgxpool.Pool
	if cfg.DB.DSN != "" {
		dbPool, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer dbPool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.Fatal(err)
		}
		defer redisClient.Close()
	}

	positions, publisher := positionSource(cfg, redisClient, logger)

	var planner navigation.Planner
	if cfg.Maps.APIKey != "" && cfg.AI.GeminiKey != "" {
		provider, err := ai.NewGeminiProvider(ctx, cfg.AI.GeminiKey, cfg.AI.Model)
		if err != nil {
			log.Fatalf("gemini init: %v", err)
		}
		defer provider.Close()

		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal(err)
		}
		places, err := maps.NewPlacesService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal(err)
		}
		tp, err := service.NewTripPlanner(provider, routes, places, cfg.AI.TimeZone, logger)
		if err != nil {
			log.Fatal(err)
		}
		planner = tp
	} else {
		logger.Info("trip planning disabled", "reason", "NAVI_MAPS_API_KEY or GEMINI_API_KEY not set")
	}

	var (
		verifier infra.TokenVerifier
		mirror   location.Mirror
	)
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, infra.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			DatabaseURL:     cfg.Firebase.DatabaseURL,
		})
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		verifier, err = infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			log.Fatalf("firebase auth: %v", err)
		}
		mirror = firebaseMirror(ctx, app, cfg.Firebase.DatabaseURL, logger)
	} else {
		logger.Warn("authentication disabled", "reason", "NAVI_FIREBASE_PROJECT_ID not set")
	}

	navStore := navigation.NewStore(dbPool, redisClient)
	navSvc := navigation.NewService(navStore, positions, planner, navigation.ServiceConfig{
		Simulator: navigation.SimulatorConfig{
			Interval: cfg.Simulator.Interval(),
			Samples:  cfg.Simulator.Samples,
		},
		Watch: positioning.WatchOptions{
			EnableHighAccuracy: cfg.Live.HighAccuracy,
			MaximumAge:         cfg.Live.MaxAge(),
		},
	}, logger)
	defer navSvc.Close()

	locationStore := location.NewStore(dbPool, redisClient)
	locationSvc := location.NewService(locationStore, publisher, mirror, location.ServiceConfig{
		SnapshotEvery: cfg.SnapshotEvery(),
	}, logger)

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httptransport.NewRouter(httptransport.RouterDeps{
			Navigation: navSvc,
			Location:   locationSvc,
			Quota:      quota.NewService(quota.NewStore(dbPool), cfg.AI.MonthlyPlans),
			Verifier:   verifier,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	logger.Info("navi-api listening", "addr", cfg.HTTP.Addr, "live_source", cfg.Live.Source)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logger.Info("navi-api stopped")
}

// positionSource picks the live source. Device ingest publishes into the same
// source when it can; a GTFS-RT feed is read-only, so ingest then only keeps
// the geo index and snapshots.
func positionSource(cfg config.Config, rdb *redis.Client, logger *slog.Logger) (positioning.Source, positioning.Publisher) {
	switch cfg.Live.Source {
	case "redis":
		src := positioning.NewRedisSource(rdb, logger)
		return src, src
	case "gtfsrt":
		src := positioning.NewGTFSRTSource(positioning.GTFSRTConfig{
			URL:          cfg.GTFSRT.URL,
			PollInterval: cfg.GTFSRT.PollInterval(),
		}, logger)
		return src, nil
	default:
		src := positioning.NewMemorySource()
		return src, src
	}
}

func firebaseMirror(ctx context.Context, app *firebase.App, databaseURL string, logger *slog.Logger) location.Mirror {
	if databaseURL == "" {
		return nil
	}
	m, err := location.NewFirebaseMirror(ctx, app)
	if err != nil {
		logger.Error("rtdb mirror disabled", "error", err)
		return nil
	}
	return m
}
