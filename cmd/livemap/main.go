package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/yegors/livemap/internal/airport"
	"github.com/yegors/livemap/internal/api"
	"github.com/yegors/livemap/internal/config"
	"github.com/yegors/livemap/internal/datasets"
	"github.com/yegors/livemap/internal/ingest"
	"github.com/yegors/livemap/internal/publish"
	"github.com/yegors/livemap/internal/storage/sqlite"
	"github.com/yegors/livemap/internal/weather"
	"github.com/yegors/livemap/internal/websocket"
	"github.com/yegors/livemap/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	envPath := flag.String("env", ".env", "Optional dotenv file with LIVEMAP_* overrides")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error applying environment: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting livemap",
		logger.String("version", Version),
		logger.String("config_path", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, path := range []string{
		cfg.Datasets.METARFile, cfg.Datasets.TAFFile, cfg.Datasets.RunwaysFile, cfg.Datasets.AirportsFile,
		cfg.Airports.JSONPath, cfg.Storage.SQLitePath,
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Error("Failed to create data directory", logger.String("path", path), logger.Error(err))
			os.Exit(1)
		}
	}

	// Airport directory, seeded from the snapshot
	directory := airport.NewDirectory(log)
	snapshotPaths := airport.SnapshotPaths{
		Current: cfg.Airports.JSONPath,
		Backup:  cfg.Airports.BackupPath,
		New:     cfg.Airports.NewPath,
	}
	if err := directory.LoadSnapshot(snapshotPaths); err != nil {
		log.Warn("No airport snapshot loaded, starting empty", logger.Error(err))
	}

	// Dataset fetch loop
	tracker := datasets.NewTracker()
	downloader := datasets.NewDownloader(cfg.RequestTimeout(), log)
	datasetService := datasets.NewService([]datasets.Source{
		{Kind: datasets.KindMETAR, URL: cfg.Datasets.METARURL, Path: cfg.Datasets.METARFile, Decompress: true},
		{Kind: datasets.KindTAF, URL: cfg.Datasets.TAFURL, Path: cfg.Datasets.TAFFile, Decompress: true},
		{Kind: datasets.KindRunways, URL: cfg.Datasets.RunwaysURL, Path: cfg.Datasets.RunwaysFile},
		{Kind: datasets.KindAirports, URL: cfg.Datasets.AirportsURL, Path: cfg.Datasets.AirportsFile},
	}, cfg.UpdateInterval(), downloader, tracker, log)

	// History storage
	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to open history database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	history, err := sqlite.NewHistoryStorage(db, log)
	if err != nil {
		log.Error("Failed to initialize history storage", logger.Error(err))
		os.Exit(1)
	}

	// Push hub for web clients
	wsServer := websocket.NewServer(log)
	wsServer.SetMessageHandler(websocket.NewBulkHandler(directory, cfg.METARAge()))
	go wsServer.Run(ctx)

	sinks := []ingest.Sink{history, wsServer}

	var publisher *publish.Publisher
	if cfg.MQTT.Enabled {
		publisher = publish.NewPublisher(publish.Config{
			Broker:      cfg.MQTT.Broker,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, log)
		go func() {
			if err := publisher.Connect(ctx); err != nil {
				log.Warn("MQTT publisher not connected", logger.Error(err))
			}
		}()
		sinks = append(sinks, publisher)
	} else {
		log.Info("MQTT publishing disabled in configuration")
	}

	// Ingestion worker
	directClient := weather.NewDirectClient(weather.DirectConfig{
		BaseURL:        cfg.Ingest.DirectMETARURL,
		MaxRetries:     cfg.Ingest.DirectMaxRetries,
		RequestTimeout: cfg.RequestTimeout(),
	}, log)
	ingestService := ingest.NewService(ingest.Config{
		PollInterval: cfg.PollInterval(),
		METARExpiry:  cfg.METARExpiry(),
		METARFile:    cfg.Datasets.METARFile,
		TAFFile:      cfg.Datasets.TAFFile,
		RunwaysFile:  cfg.Datasets.RunwaysFile,
		AirportsFile: cfg.Datasets.AirportsFile,
	}, directory, tracker, weather.NewParser(log), directClient, log, sinks...)

	if err := datasetService.Start(); err != nil {
		log.Error("Failed to start dataset service", logger.Error(err))
		os.Exit(1)
	}
	if err := ingestService.Start(); err != nil {
		log.Error("Failed to start ingestion worker", logger.Error(err))
		os.Exit(1)
	}

	var maintenance sync.WaitGroup
	maintenance.Add(1)
	go func() {
		defer maintenance.Done()
		runMaintenance(ctx, cfg, directory, snapshotPaths, history, log)
	}()

	// HTTP API
	handler := api.NewHandler(directory, tracker, history, wsServer, api.Options{
		METARAge:     cfg.METARAge(),
		HistoryLimit: cfg.Storage.HistoryLimit,
	}, log)
	router := api.NewRouter(handler, wsServer, cfg.Server.StaticFilesDir, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	datasetService.Stop()
	ingestService.Stop()

	cancel()
	maintenance.Wait()

	if err := directory.SaveSnapshot(snapshotPaths); err != nil {
		log.Error("Failed to save airport snapshot", logger.Error(err))
	}
	if publisher != nil {
		publisher.Disconnect()
	}

	log.Info("Livemap stopped")
}

// runMaintenance saves the airport snapshot and prunes history until ctx is done
func runMaintenance(ctx context.Context, cfg *config.Config, directory *airport.Directory, paths airport.SnapshotPaths, history *sqlite.HistoryStorage, log *logger.Logger) {
	saveTicker := time.NewTicker(cfg.SaveInterval())
	defer saveTicker.Stop()
	pruneTicker := time.NewTicker(time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-saveTicker.C:
			if err := directory.SaveSnapshot(paths); err != nil {
				log.Error("Failed to save airport snapshot", logger.Error(err))
			}
		case <-pruneTicker.C:
			if cfg.Storage.HistoryRetentionDays == 0 {
				continue
			}
			if _, err := history.Prune(ctx, time.Now().Add(-cfg.HistoryRetention())); err != nil {
				log.Warn("Failed to prune history", logger.Error(err))
			}
		}
	}
}
