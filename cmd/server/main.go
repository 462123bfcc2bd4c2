package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/2mur/transfers-timelapse-nc/service/config"
	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/2mur/transfers-timelapse-nc/service/db"
	"github.com/2mur/transfers-timelapse-nc/service/metrics"
	natspkg "github.com/2mur/transfers-timelapse-nc/service/nats"
	"github.com/2mur/transfers-timelapse-nc/service/playback"
	"github.com/2mur/transfers-timelapse-nc/service/server"
)

const datasetLoadTimeout = 2 * time.Minute

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"dataset_uri", redactURI(cfg.DatasetURI),
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics against the default registry served on /metrics
	m := metrics.NewMetrics(nil)

	// Load the dataset once. A failure is logged and playback runs empty.
	ds := loadDataset(ctx, cfg, m, logger)

	// Initialize NATS publisher (optional)
	var publisher natspkg.Publisher
	if cfg.NATSURL != "" {
		p, err := natspkg.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to initialize NATS publisher, continuing without it",
				"nats_url", cfg.NATSURL,
				"error", err,
			)
		} else {
			publisher = p
			defer p.Close()
		}
	} else {
		logger.Info("NATS_URL not set, transfer event publishing disabled")
	}

	// Initialize playback controller
	controller := playback.NewController(playback.Config{
		Dataset:       ds,
		FrameInterval: cfg.FrameInterval,
		Retention:     cfg.EdgeRetention,
		Autoplay:      cfg.Autoplay,
		Publisher:     publisher,
		Metrics:       m,
		Logger:        logger,
	})

	controllerErrors := make(chan error, 1)
	go func() {
		controllerErrors <- controller.Run(ctx)
	}()

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, controller, m, logger)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates, render surface disabled", "error", err)
	}

	logger.Info("server initialized, all dependencies ready",
		"records", ds.Len(),
		"nodes", len(ds.Nodes),
		"autoplay", cfg.Autoplay,
		"nats_enabled", publisher != nil,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case err := <-controllerErrors:
		logger.Error("playback loop exited", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		// Stop the playback loop and wait for its publish worker to drain.
		cancel()
		if err := <-controllerErrors; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("playback loop stopped with error", "error", err)
		}

		logger.Info("server shutdown complete")
	}
}

// loadDataset fetches and preprocesses the configured dataset. It never
// fails: any error is logged and an empty dataset is returned.
func loadDataset(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *dataset.Dataset {
	ctx, cancel := context.WithTimeout(ctx, datasetLoadTimeout)
	defer cancel()

	kind := sourceKind(cfg.DatasetURI)
	start := time.Now()

	filter, err := dataset.NewFilter(cfg.DatasetFilter)
	if err != nil {
		m.RecordDatasetLoad(kind, time.Since(start).Seconds(), err)
		logger.Error("invalid dataset filter, starting with an empty dataset",
			"filter", cfg.DatasetFilter,
			"error", err,
		)
		return &dataset.Dataset{}
	}

	src, closeSource, err := db.OpenSource(ctx, cfg.DatasetURI, cfg.DatasetTable, logger)
	if err != nil {
		m.RecordDatasetLoad(kind, time.Since(start).Seconds(), err)
		logger.Error("failed to open dataset source, starting with an empty dataset",
			"uri", redactURI(cfg.DatasetURI),
			"error", err,
		)
		return &dataset.Dataset{}
	}
	defer closeSource()

	seed := cfg.LayoutSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	ds, err := dataset.Load(ctx, src, dataset.Options{
		Interval:    cfg.TxInterval,
		Persistence: cfg.EdgePersistence,
		Speed:       cfg.EdgeSpeed,
		Extent:      cfg.LayoutExtent,
		Rand:        rand.New(rand.NewSource(seed)),
		Filter:      filter,
		Logger:      logger,
	})
	m.RecordDatasetLoad(kind, time.Since(start).Seconds(), err)
	if err != nil {
		logger.Error("failed to load dataset, starting with an empty dataset",
			"uri", redactURI(cfg.DatasetURI),
			"error", err,
		)
		return ds
	}

	m.RecordDatasetShape(ds.Len(), len(ds.Nodes), ds.Skipped, ds.Filtered)
	logger.Info("dataset loaded",
		"source", kind,
		"rows", ds.Rows,
		"records", ds.Len(),
		"nodes", len(ds.Nodes),
		"skipped", ds.Skipped,
		"filtered", ds.Filtered,
		"layout_seed", seed,
		"duration", time.Since(start),
	)
	return ds
}

func sourceKind(uri string) string {
	switch {
	case dataset.IsPostgresURI(uri):
		return "postgres"
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return "http"
	default:
		return "file"
	}
}

// redactURI hides credentials in database URIs before they are logged.
func redactURI(uri string) string {
	if !dataset.IsPostgresURI(uri) {
		return uri
	}
	scheme, rest, _ := strings.Cut(uri, "://")
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return uri
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
