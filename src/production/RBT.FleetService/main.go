package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.ApiService/controllers"
	"gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.ApiService/health"
	"gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.ApiService/middleware"
	cache "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Cache"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	container "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Container"
	counter "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Counter"
	dispatcher "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Dispatcher"
	ingestor "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Ingestor"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	metrics "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Metrics"
	networkserver "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.NetworkServer"
	scheduler "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Scheduler"
	weather "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Weather"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}

	log := ctr.GetLogger()
	cfg := ctr.GetConfig()
	log.WithField("reading_store", cfg.ReadingStore).Info("Starting robot fleet service")

	// Initialize database
	if ctr.UsesPostgres() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := ctr.InitializeDatabase(ctx)
		cancel()
		if err != nil {
			log.FatalWithError(err, "Failed to initialize database")
		}
		db, err := ctr.GetDatabase()
		if err != nil {
			log.FatalWithError(err, "Failed to get database connection")
		}
		metrics.Init(db)
	} else {
		metrics.Init(nil)
	}

	readingRepo, err := ctr.ReadingRepository()
	if err != nil {
		log.FatalWithError(err, "Failed to create reading repository")
	}
	store := counter.NewStore(readingRepo, log)

	nsClient := networkserver.NewClient(cfg.NetworkServer, cfg.MQTT.ApplicationID, log)
	downlinks := dispatcher.New(nsClient, cfg.NetworkServer.DispatchTimeout, log)

	gate, thresholds, err := buildWeatherGate(cfg, nsClient, log)
	if err != nil {
		log.FatalWithError(err, "Failed to configure weather gate")
	}

	sched, err := scheduler.New(cfg.Scheduler, gate, thresholds, downlinks, nil, log)
	if err != nil {
		log.FatalWithError(err, "Failed to create scheduler")
	}
	sched.Start()

	live := cache.NewLiveStatusStore()
	roster := cache.NewRosterCache()
	ing := ingestor.New(cfg, store, live, nsClient, roster, ctr.UplinkArchive(), log)

	ingestCtx, stopIngest := context.WithCancel(context.Background())
	if err := ing.Start(ingestCtx); err != nil {
		log.FatalWithError(err, "Failed to start MQTT ingestor")
	}

	checker := health.NewHealthChecker()
	ctr.RegisterProbes(checker)
	checker.AddProbe("mqtt", func(context.Context) error {
		if !ing.IsConnected() {
			return errors.New("mqtt client is not connected")
		}
		return nil
	})
	checker.AddProbe("network_server", nsClient.Probe)

	// Initialize Gin router
	router := gin.New()
	router.Use(middleware.RequestLogger(log))
	router.Use(gin.Recovery())

	// Configure CORS from config
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}))

	controllers.NewHealthController(checker, log).RegisterRoutes(router)
	controllers.NewScheduleController(sched, log).RegisterRoutes(router)
	controllers.NewWeatherController(gate, thresholds, log).RegisterRoutes(router)
	controllers.NewDeviceController(live, nsClient, roster, downlinks, log).RegisterRoutes(router)
	controllers.NewMulticastController(nsClient, downlinks, log).RegisterRoutes(router)
	controllers.NewGatewayController(nsClient, log).RegisterRoutes(router)
	controllers.NewReadingController(store, log).RegisterRoutes(router)

	port := cfg.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	log.Info("Robot fleet service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithError(err, "Server forced to shutdown")
	}
	sched.Stop()
	ing.Stop()
	stopIngest()
	if err := ctr.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithError(err, "Container shutdown incomplete")
	}
}

// buildWeatherGate prefers the configured coordinates and falls back to the gateway's reported position
func buildWeatherGate(cfg *config.FleetConfig, nsClient *networkserver.Client, log *logger.Logger) (*weather.Gate, *weather.ThresholdStore, error) {
	thresholds, err := weather.NewThresholdStore(weather.Thresholds{
		WindSpeed:   cfg.Weather.WindSpeedThreshold,
		Humidity:    cfg.Weather.HumidityThreshold,
		RainEnabled: cfg.Weather.RainEnabled,
	})
	if err != nil {
		return nil, nil, err
	}

	var location weather.LocationSource
	if cfg.HasStaticLocation() {
		static, err := weather.ParseStaticLocation(cfg.Weather.Latitude, cfg.Weather.Longitude)
		if err != nil {
			return nil, nil, err
		}
		location = static
	} else {
		log.WithField("gateway_id", cfg.NetworkServer.GatewayID).Info("Using gateway location for weather lookups")
		location = weather.NewGatewayLocation(nsClient, cfg.NetworkServer.GatewayID)
	}

	provider := weather.NewOpenWeatherMap(cfg.Weather.APIURL, cfg.Weather.APIKey, cfg.Weather.Timeout)
	return weather.NewGate(provider, location, thresholds, cfg.Weather.Timeout, log), thresholds, nil
}
