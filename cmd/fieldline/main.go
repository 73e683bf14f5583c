// Fieldline Core - Telemetry and Control Hub
//
// This is the main entry point for the Fieldline Core application.
// Fieldline ingests readings from user-configured brokers and PLCs,
// resolves them to devices, stores whole-record state, and fans
// updates out to per-room WebSocket feeds. Commands travel the same
// path in reverse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/hbastian/fieldline-core/migrations"

	"github.com/hbastian/fieldline-core/internal/api"
	"github.com/hbastian/fieldline-core/internal/auth"
	"github.com/hbastian/fieldline-core/internal/command"
	"github.com/hbastian/fieldline-core/internal/connector"
	"github.com/hbastian/fieldline-core/internal/device"
	"github.com/hbastian/fieldline-core/internal/infrastructure/config"
	"github.com/hbastian/fieldline-core/internal/infrastructure/database"
	"github.com/hbastian/fieldline-core/internal/infrastructure/influxdb"
	"github.com/hbastian/fieldline-core/internal/infrastructure/logging"
	"github.com/hbastian/fieldline-core/internal/ingest"
	"github.com/hbastian/fieldline-core/internal/room"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Fieldline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	userRepo := auth.NewSQLiteRepository(db.DB)
	roomRepo := room.NewSQLiteRepository(db.DB)
	connectorRepo := connector.NewSQLiteRepository(db.DB)
	deviceRepo := device.NewSQLiteRepository(db.DB)

	// Connect to InfluxDB (optional telemetry mirror)
	var influxClient *influxdb.Client
	var mirror ingest.Mirror
	var mirrorHealth api.HealthChecker
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		mirror = influxClient
		mirrorHealth = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub: shared fan-out target for ingestion and commands
	hub := api.NewHub(log)

	// Ingestion pipeline and connector workers
	pipeline := ingest.NewPipeline(deviceRepo, hub, mirror, log)
	manager := ingest.NewManager(ingest.Env{
		Devices:  deviceRepo,
		Pipeline: pipeline,
		Log:      log,
		MQTT:     cfg.MQTT,
		Ingest:   cfg.Ingest,
	}, connectorRepo)

	managerDone := make(chan error, 1)
	go func() {
		managerDone <- manager.Run(ctx)
	}()

	// Command processor
	commands := command.NewProcessor(deviceRepo, connectorRepo, hub, cfg.MQTT, log)
	defer commands.Close()

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Users:      userRepo,
		Rooms:      roomRepo,
		Connectors: connectorRepo,
		Devices:    deviceRepo,
		Commands:   commands,
		DB:         db,
		Mirror:     mirrorHealth,
		Hub:        hub,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// The manager stops its workers when the context is cancelled;
	// wait so in-flight readings finish before the database closes.
	if managerErr := <-managerDone; managerErr != nil {
		log.Error("ingestion manager exited with error", "error", managerErr)
	}

	log.Info("Fieldline Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FIELDLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIELDLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
