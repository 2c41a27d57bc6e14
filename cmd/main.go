package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "water_monitor/docs"
	"water_monitor/internal/bridge"
	"water_monitor/internal/config"
	"water_monitor/internal/handlers"
	"water_monitor/internal/logger"
	"water_monitor/internal/remote"
	"water_monitor/internal/remote/memstore"
	"water_monitor/internal/repository"
	"water_monitor/internal/repository/db"
	"water_monitor/internal/server"
	"water_monitor/internal/service"
)

const shutdownTimeout = 10 * time.Second

// @title                       Water Monitor API
// @version                     1.0
// @description                 Live water-quality telemetry and device control.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	// load configs/config.yml + WATER_* env
	cfg, err := config.Load()
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.GetWithFormat(cfg.Log.Level, cfg.Log.Format)

	// open DB
	conn, err := openDB(cfg.DB.Path, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// wire dependencies
	repos := repository.NewRepository(conn, log)
	store, closeStore := openStore(ctx, cfg, repos, log)
	defer closeStore()

	services := service.NewService(store, repos, serviceConfig(cfg), log)
	apiHandler := handlers.NewHandler(services, log)

	// keep the cache warm while nobody is subscribed
	go services.Keeper.Run(ctx)

	if cfg.Simulator.Enabled {
		go services.Simulator.Run(ctx, cfg.Simulator.Tick)
	}
	if cfg.MQTT.Enabled {
		go runBridge(ctx, cfg, store, log)
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

// openDB initializes the SQLite database at path.
func openDB(path string, log *logger.Logger) (*sql.DB, error) {
	if path == "" {
		log.Infow("db.path not set in config; using default file", "default", "app.db")
		path = "app.db"
	}
	return db.InitDB(path)
}

// openStore selects the remote store backend. The sqlite store needs its
// poll loop; the returned func releases the backend.
func openStore(ctx context.Context, cfg *config.Config, repos *repository.Repository, log *logger.Logger) (remote.Store, func()) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Infow("store_backend", "backend", cfg.Store.Backend)
		s := memstore.New()
		return s, s.Close
	default:
		log.Infow("store_backend", "backend", cfg.Store.Backend, "poll_interval", cfg.Store.PollInterval)
		go repos.Nodes.Run(ctx, cfg.Store.PollInterval)
		return repos.Nodes, func() {}
	}
}

func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		Options: service.Options{
			Paths: service.Paths{
				SensorData: cfg.Paths.SensorData,
				Control:    cfg.Paths.Control,
			},
			HistoryLimit:   cfg.Telemetry.HistoryLimit,
			HistoryWindow:  cfg.Telemetry.HistoryWindow,
			FallbackWindow: cfg.Telemetry.FallbackWindow,
			FeedBuffer:     cfg.Feed.Buffer,
		},
		Auth: service.AuthConfig{
			SigningKey: cfg.Auth.SigningKey,
			TokenTTL:   cfg.Auth.TokenTTL,
		},
		KeeperMaxBackoff:   cfg.Keeper.MaxBackoff,
		SimulatorRetention: cfg.Simulator.Retention,
		SimulatorSeed:      cfg.Simulator.Seed,
	}
}

// runBridge relays telemetry and control between the store and the broker
// until ctx is cancelled. Broker failures are logged; the API keeps serving.
func runBridge(ctx context.Context, cfg *config.Config, store remote.Store, log *logger.Logger) {
	bcfg := bridge.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		TelemetryTopic: cfg.MQTT.TelemetryTopic,
		ControlTopic:   cfg.MQTT.ControlTopic,
		QoS:            byte(cfg.MQTT.QoS),
		MaxBackoff:     cfg.Keeper.MaxBackoff,
	}
	client, err := bridge.Connect(bcfg, log)
	if err != nil {
		log.Errorw("mqtt_bridge_disabled", "err", err)
		return
	}
	b := bridge.New(client, store, bcfg, cfg.Paths.SensorData, cfg.Paths.Control, log)
	if err := b.Run(ctx); err != nil {
		log.Errorw("mqtt_bridge_stopped", "err", err)
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		log.Infow("http_listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
